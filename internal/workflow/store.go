package workflow

import (
	"context"

	"github.com/qatrail/qatrail/model"
)

// Aggregate is the full persisted state of one workflow instance: the
// instance row plus its step results and time sessions. The instance
// exclusively owns both collections; they live and die with it.
type Aggregate struct {
	Instance model.WorkflowInstance
	Steps    []model.StepResult  // ordered by StepIndex
	Sessions []model.TimeSession // ordered by StepIndex
}

// StepFor returns the step result at the given index, or nil.
func (a *Aggregate) StepFor(index int) *model.StepResult {
	for i := range a.Steps {
		if a.Steps[i].StepIndex == index {
			return &a.Steps[i]
		}
	}
	return nil
}

// SessionFor returns the time session at the given index, or nil.
func (a *Aggregate) SessionFor(index int) *model.TimeSession {
	for i := range a.Sessions {
		if a.Sessions[i].StepIndex == index {
			return &a.Sessions[i]
		}
	}
	return nil
}

// OpenSession returns the session that has not ended yet, or nil. At most
// one such session exists per instance.
func (a *Aggregate) OpenSession() *model.TimeSession {
	for i := range a.Sessions {
		if a.Sessions[i].EndedAt == nil {
			return &a.Sessions[i]
		}
	}
	return nil
}

// ActiveSessionCount returns how many sessions are actively timing. The
// engine maintains this at <= 1; recovery verifies it.
func (a *Aggregate) ActiveSessionCount() int {
	n := 0
	for i := range a.Sessions {
		if a.Sessions[i].Active {
			n++
		}
	}
	return n
}

// Store persists workflow aggregates and their audit trails. Every mutation
// is durable before the engine acknowledges it to the caller: Create and
// Update apply the aggregate and its transition events atomically, so a
// transition is either fully recorded or not applied at all.
type Store interface {
	// Create persists a new aggregate and its initial events. Returns
	// CONFLICT if a non-terminal instance already exists for the same
	// ticket, or if the instance ID is taken.
	Create(ctx context.Context, agg Aggregate, events []model.WorkflowEvent) error

	// Get retrieves an aggregate by instance ID. Returns NOT_FOUND if the
	// instance doesn't exist.
	Get(ctx context.Context, instanceID string) (Aggregate, error)

	// Update persists a mutated aggregate with optimistic locking: the
	// instance version must match the stored version, and the stored
	// version is incremented on success. Returns CONFLICT on a version
	// mismatch; the caller must re-read and retry.
	Update(ctx context.Context, agg Aggregate, events []model.WorkflowEvent) error

	// FindActiveByTicket returns the non-terminal instance for a ticket,
	// or nil if none exists.
	FindActiveByTicket(ctx context.Context, ticketID string) (*model.WorkflowInstance, error)

	// List returns aggregates matching the filters plus the total match
	// count before pagination, newest first.
	List(ctx context.Context, filters model.ListFilters) ([]Aggregate, int, error)

	// GetEvents retrieves the audit trail for an instance in order.
	GetEvents(ctx context.Context, instanceID string) ([]model.WorkflowEvent, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
