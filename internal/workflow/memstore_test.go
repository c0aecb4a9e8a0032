package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/qatrail/qatrail/model"
)

func memAggregate(id, ticket string, status model.WorkflowStatus, startedAt time.Time) Aggregate {
	return Aggregate{
		Instance: model.WorkflowInstance{
			ID:        id,
			TicketID:  ticket,
			OwnerID:   "tester-1",
			Status:    status,
			StartedAt: startedAt,
			Version:   1,
		},
		Steps: []model.StepResult{
			{ID: id + "-s0", InstanceID: id, StepIndex: 0, Status: model.StepStatusInProgress, StartedAt: startedAt},
		},
		Sessions: []model.TimeSession{
			{ID: id + "-t0", InstanceID: id, StepIndex: 0, StartedAt: startedAt, Active: true},
		},
	}
}

func TestMemStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	agg := memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch)

	events := []model.WorkflowEvent{{ID: "ev-1", InstanceID: "wf-1", Event: model.EventStarted}}
	if err := s.Create(ctx, agg, events); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Instance.TicketID != "PROJ-1" || len(got.Steps) != 1 || len(got.Sessions) != 1 {
		t.Errorf("aggregate = %+v", got)
	}

	evs, err := s.GetEvents(ctx, "wf-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Event != model.EventStarted {
		t.Errorf("events = %+v", evs)
	}
}

func TestMemStore_Get_notFound(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Get(context.Background(), "nope"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if _, err := s.GetEvents(context.Background(), "nope"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("events err = %v, want NOT_FOUND", err)
	}
}

func TestMemStore_Create_duplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch), nil)

	err := s.Create(ctx, memAggregate("wf-1", "PROJ-2", model.WorkflowStatusActive, epoch), nil)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestMemStore_Create_activeTicket(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusPaused, epoch), nil)

	err := s.Create(ctx, memAggregate("wf-2", "PROJ-1", model.WorkflowStatusActive, epoch), nil)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}

	// A terminal instance does not block the ticket.
	s2 := NewMemStore()
	s2.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusCancelled, epoch), nil)
	if err := s2.Create(ctx, memAggregate("wf-2", "PROJ-1", model.WorkflowStatusActive, epoch), nil); err != nil {
		t.Errorf("create after terminal: %v", err)
	}
}

func TestMemStore_Update_versionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch), nil)

	agg, _ := s.Get(ctx, "wf-1")
	agg.Instance.Status = model.WorkflowStatusPaused
	if err := s.Update(ctx, agg, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(ctx, "wf-1")
	if got.Instance.Version != 2 {
		t.Errorf("version = %d, want 2", got.Instance.Version)
	}
	if got.Instance.Status != model.WorkflowStatusPaused {
		t.Errorf("status = %q", got.Instance.Status)
	}

	// Writing with the stale version is rejected.
	if err := s.Update(ctx, agg, nil); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("stale update err = %v, want CONFLICT", err)
	}
}

func TestMemStore_Update_notFound(t *testing.T) {
	s := NewMemStore()
	agg := memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch)
	if err := s.Update(context.Background(), agg, nil); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemStore_Update_appendsEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch),
		[]model.WorkflowEvent{{ID: "ev-1", InstanceID: "wf-1", Event: model.EventStarted}})

	agg, _ := s.Get(ctx, "wf-1")
	s.Update(ctx, agg, []model.WorkflowEvent{{ID: "ev-2", InstanceID: "wf-1", Event: model.EventPaused}})

	evs, _ := s.GetEvents(ctx, "wf-1")
	if len(evs) != 2 || evs[1].Event != model.EventPaused {
		t.Errorf("events = %+v", evs)
	}
}

func TestMemStore_FindActiveByTicket(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusPaused, epoch), nil)
	s.Create(ctx, memAggregate("wf-2", "PROJ-2", model.WorkflowStatusCompleted, epoch), nil)

	inst, err := s.FindActiveByTicket(ctx, "PROJ-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if inst == nil || inst.ID != "wf-1" {
		t.Errorf("inst = %+v", inst)
	}

	// Terminal instances don't count as active.
	if inst, _ := s.FindActiveByTicket(ctx, "PROJ-2"); inst != nil {
		t.Errorf("inst = %+v, want nil for terminal", inst)
	}
	if inst, _ := s.FindActiveByTicket(ctx, "PROJ-9"); inst != nil {
		t.Errorf("inst = %+v, want nil for unknown", inst)
	}
}

func TestMemStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch), nil)
	s.Create(ctx, memAggregate("wf-2", "PROJ-2", model.WorkflowStatusCompleted, epoch.Add(time.Hour)), nil)
	s.Create(ctx, memAggregate("wf-3", "PROJ-3", model.WorkflowStatusActive, epoch.Add(2*time.Hour)), nil)

	aggs, total, err := s.List(ctx, model.ListFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(aggs) != 3 {
		t.Fatalf("total = %d, len = %d", total, len(aggs))
	}
	// Newest first.
	if aggs[0].Instance.ID != "wf-3" || aggs[2].Instance.ID != "wf-1" {
		t.Errorf("order = %s, %s, %s", aggs[0].Instance.ID, aggs[1].Instance.ID, aggs[2].Instance.ID)
	}

	aggs, total, _ = s.List(ctx, model.ListFilters{Status: model.WorkflowStatusActive})
	if total != 2 || len(aggs) != 2 {
		t.Errorf("active: total = %d, len = %d", total, len(aggs))
	}

	aggs, _, _ = s.List(ctx, model.ListFilters{TicketID: "PROJ-2"})
	if len(aggs) != 1 || aggs[0].Instance.ID != "wf-2" {
		t.Errorf("by ticket = %+v", aggs)
	}

	since := epoch.Add(30 * time.Minute)
	aggs, _, _ = s.List(ctx, model.ListFilters{Since: &since})
	if len(aggs) != 2 {
		t.Errorf("since: len = %d, want 2", len(aggs))
	}
}

func TestMemStore_List_pagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		s.Create(ctx, memAggregate("wf-"+id, "PROJ-"+id, model.WorkflowStatusActive,
			epoch.Add(time.Duration(i)*time.Minute)), nil)
	}

	aggs, total, err := s.List(ctx, model.ListFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 before pagination", total)
	}
	if len(aggs) != 2 {
		t.Fatalf("len = %d, want 2", len(aggs))
	}
	// Page 1 holds wf-e, wf-d; page 2 holds wf-c, wf-b.
	if aggs[0].Instance.ID != "wf-c" || aggs[1].Instance.ID != "wf-b" {
		t.Errorf("page 2 = %s, %s", aggs[0].Instance.ID, aggs[1].Instance.ID)
	}

	aggs, _, _ = s.List(ctx, model.ListFilters{Page: 4, PageSize: 2})
	if len(aggs) != 0 {
		t.Errorf("past-end page len = %d, want 0", len(aggs))
	}
}

func TestMemStore_returnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Create(ctx, memAggregate("wf-1", "PROJ-1", model.WorkflowStatusActive, epoch), nil)

	got, _ := s.Get(ctx, "wf-1")
	got.Instance.Status = model.WorkflowStatusCancelled
	got.Steps[0].Status = model.StepStatusCompleted
	got.Sessions[0].Active = false

	fresh, _ := s.Get(ctx, "wf-1")
	if fresh.Instance.Status != model.WorkflowStatusActive {
		t.Error("mutating a returned instance leaked into the store")
	}
	if fresh.Steps[0].Status != model.StepStatusInProgress {
		t.Error("mutating a returned step leaked into the store")
	}
	if !fresh.Sessions[0].Active {
		t.Error("mutating a returned session leaked into the store")
	}
}

func TestMemStore_HealthCheck(t *testing.T) {
	if err := NewMemStore().HealthCheck(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
}
