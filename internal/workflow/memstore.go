package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qatrail/qatrail/model"
)

// MemStore is an in-memory Store used for tests and single-node development
// deployments. All reads and writes deal in deep copies so callers can never
// mutate committed state in place.
type MemStore struct {
	mu         sync.RWMutex
	aggregates map[string]Aggregate             // key: instance ID
	events     map[string][]model.WorkflowEvent // key: instance ID
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		aggregates: make(map[string]Aggregate),
		events:     make(map[string][]model.WorkflowEvent),
	}
}

// Create persists a new aggregate and its initial events.
func (s *MemStore) Create(_ context.Context, agg Aggregate, events []model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.aggregates[agg.Instance.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", agg.Instance.ID),
		)
	}
	for _, existing := range s.aggregates {
		if existing.Instance.TicketID == agg.Instance.TicketID && !existing.Instance.Status.Terminal() {
			return model.NewConflictError(
				fmt.Sprintf("ticket %q already has an active workflow instance", agg.Instance.TicketID),
			)
		}
	}

	s.aggregates[agg.Instance.ID] = cloneAggregate(agg)
	s.events[agg.Instance.ID] = append(s.events[agg.Instance.ID], events...)
	return nil
}

// Get retrieves an aggregate by instance ID.
func (s *MemStore) Get(_ context.Context, instanceID string) (Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, exists := s.aggregates[instanceID]
	if !exists {
		return Aggregate{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return cloneAggregate(agg), nil
}

// Update persists a mutated aggregate with optimistic locking.
func (s *MemStore) Update(_ context.Context, agg Aggregate, events []model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.aggregates[agg.Instance.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", agg.Instance.ID),
		)
	}
	if existing.Instance.Version != agg.Instance.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)",
				agg.Instance.ID, agg.Instance.Version, existing.Instance.Version),
		)
	}

	stored := cloneAggregate(agg)
	stored.Instance.Version++
	stored.Instance.UpdatedAt = time.Now().UTC()
	s.aggregates[agg.Instance.ID] = stored
	s.events[agg.Instance.ID] = append(s.events[agg.Instance.ID], events...)
	return nil
}

// FindActiveByTicket returns the non-terminal instance for a ticket, or nil.
func (s *MemStore) FindActiveByTicket(_ context.Context, ticketID string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, agg := range s.aggregates {
		if agg.Instance.TicketID == ticketID && !agg.Instance.Status.Terminal() {
			inst := agg.Instance
			return &inst, nil
		}
	}
	return nil, nil
}

// List returns aggregates matching the filters, newest first.
func (s *MemStore) List(_ context.Context, filters model.ListFilters) ([]Aggregate, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Aggregate
	for _, agg := range s.aggregates {
		if filters.Status != "" && agg.Instance.Status != filters.Status {
			continue
		}
		if filters.TicketID != "" && agg.Instance.TicketID != filters.TicketID {
			continue
		}
		if filters.OwnerID != "" && agg.Instance.OwnerID != filters.OwnerID {
			continue
		}
		if filters.Since != nil && agg.Instance.StartedAt.Before(*filters.Since) {
			continue
		}
		result = append(result, cloneAggregate(agg))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Instance.StartedAt.After(result[j].Instance.StartedAt)
	})
	total := len(result)

	if filters.Page > 0 && filters.PageSize > 0 {
		offset := (filters.Page - 1) * filters.PageSize
		if offset >= len(result) {
			return []Aggregate{}, total, nil
		}
		result = result[offset:]
		if filters.PageSize < len(result) {
			result = result[:filters.PageSize]
		}
	}

	return result, total, nil
}

// GetEvents retrieves the audit trail for an instance in order.
func (s *MemStore) GetEvents(_ context.Context, instanceID string) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.aggregates[instanceID]; !exists {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	events := s.events[instanceID]
	result := make([]model.WorkflowEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aggregates)
}

// cloneAggregate deep-copies an aggregate, including all pointer fields, so
// in-memory state is isolated from caller mutation.
func cloneAggregate(agg Aggregate) Aggregate {
	out := Aggregate{Instance: agg.Instance}
	out.Instance.CompletedAt = cloneTime(agg.Instance.CompletedAt)

	out.Steps = make([]model.StepResult, len(agg.Steps))
	for i, sr := range agg.Steps {
		sr.CompletedAt = cloneTime(sr.CompletedAt)
		if sr.Gap != nil {
			gap := *sr.Gap
			sr.Gap = &gap
		}
		out.Steps[i] = sr
	}

	out.Sessions = make([]model.TimeSession, len(agg.Sessions))
	for i, ts := range agg.Sessions {
		ts.PausedAt = cloneTime(ts.PausedAt)
		ts.ResumedAt = cloneTime(ts.ResumedAt)
		ts.EndedAt = cloneTime(ts.EndedAt)
		out.Sessions[i] = ts
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
