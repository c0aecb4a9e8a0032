package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qatrail/qatrail/internal/observability"
	"github.com/qatrail/qatrail/internal/template"
	"github.com/qatrail/qatrail/internal/timing"
	"github.com/qatrail/qatrail/internal/variance"
	"github.com/qatrail/qatrail/model"
)

// maxNotesBytes bounds free-text notes on step completion and skip reasons.
const maxNotesBytes = 10 << 10

// Recorder receives workflow lifecycle metrics. The zero implementation
// discards everything so the engine works without an observability stack.
type Recorder interface {
	WorkflowStarted(templateID string)
	WorkflowFinished(templateID string, status model.WorkflowStatus)
	WorkflowRecovered(templateID string)
	StepFinalized(templateID string, status model.StepStatus, class model.GapClass, actualSeconds int64)
	GapAlert(templateID string)
}

type nopRecorder struct{}

func (nopRecorder) WorkflowStarted(string)                                        {}
func (nopRecorder) WorkflowFinished(string, model.WorkflowStatus)                 {}
func (nopRecorder) WorkflowRecovered(string)                                      {}
func (nopRecorder) StepFinalized(string, model.StepStatus, model.GapClass, int64) {}
func (nopRecorder) GapAlert(string)                                               {}

// Engine drives workflow instances through their lifecycle: starting from a
// template, pausing and resuming timing, finalizing steps, and cancelling.
// Every transition is persisted together with its audit events before the
// caller sees the result, and elapsed time is always recomputed from stored
// timestamps rather than counted in memory.
type Engine struct {
	store    Store
	registry *template.Registry
	logger   *zap.Logger
	metrics  Recorder
	locks    *instanceLocks
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source. For testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// NewEngine creates a workflow engine backed by the given store and
// template registry.
func NewEngine(store Store, registry *template.Registry, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  nopRecorder{},
		locks:    newInstanceLocks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest is the input for starting a workflow instance.
type StartRequest struct {
	TemplateID string `json:"template_id"`
	TicketID   string `json:"ticket_id"`
}

// Start creates a workflow instance from a template, enters the first step
// and begins timing it. A ticket can have at most one non-terminal instance.
func (e *Engine) Start(ctx context.Context, req StartRequest) (snap *model.WorkflowSnapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.start",
		observability.AttrTemplateID.String(req.TemplateID),
		observability.AttrTicketID.String(req.TicketID),
		observability.AttrSubjectID.String(actorFrom(ctx)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var details []model.FieldError
	if req.TemplateID == "" {
		details = append(details, model.FieldError{
			Field: "template_id", Code: "required", Message: "template_id is required",
		})
	}
	if req.TicketID == "" {
		details = append(details, model.FieldError{
			Field: "ticket_id", Code: "required", Message: "ticket_id is required",
		})
	}
	if len(details) > 0 {
		return nil, model.NewValidationError(details)
	}

	tpl, ok := e.registry.Get(req.TemplateID)
	if !ok {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow template %q not found", req.TemplateID),
		)
	}

	if existing, err := e.store.FindActiveByTicket(ctx, req.TicketID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, model.NewConflictError(
			fmt.Sprintf("ticket %q already has workflow instance %q in progress",
				req.TicketID, existing.ID),
		)
	}

	now := e.now().UTC()
	actor := actorFrom(ctx)

	agg := Aggregate{
		Instance: model.WorkflowInstance{
			ID:          uuid.New().String(),
			TemplateID:  tpl.ID,
			TicketID:    req.TicketID,
			OwnerID:     actor,
			Status:      model.WorkflowStatusActive,
			CurrentStep: 0,
			StartedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
			Version:     1,
		},
	}
	for i := range tpl.Steps {
		sr := model.StepResult{
			ID:         uuid.New().String(),
			InstanceID: agg.Instance.ID,
			StepIndex:  i,
			Status:     model.StepStatusPending,
		}
		if i == 0 {
			sr.Status = model.StepStatusInProgress
			sr.StartedAt = now
		}
		agg.Steps = append(agg.Steps, sr)
	}
	agg.Sessions = append(agg.Sessions, timing.Open(agg.Instance.ID, 0, now))

	events := []model.WorkflowEvent{
		newEvent(agg.Instance.ID, 0, model.EventStarted, actor, "", now),
		newEvent(agg.Instance.ID, 0, model.EventStepEntered, actor, tpl.Steps[0].Name, now),
	}
	if err := e.store.Create(ctx, agg, events); err != nil {
		return nil, err
	}
	span.SetAttributes(observability.AttrInstanceID.String(agg.Instance.ID))

	e.metrics.WorkflowStarted(tpl.ID)
	observability.RequestLogger(ctx, e.logger).Info("workflow started",
		zap.String("instance_id", agg.Instance.ID),
		zap.String("template_id", tpl.ID),
		zap.String("ticket_id", req.TicketID),
		zap.Int("steps", len(tpl.Steps)),
	)
	return e.buildSnapshot(&agg, now), nil
}

// Pause suspends the instance and freezes its open time session. The elapsed
// value reported while paused does not advance.
func (e *Engine) Pause(ctx context.Context, instanceID string) (snap *model.WorkflowSnapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.pause",
		observability.AttrInstanceID.String(instanceID))
	defer func() { observability.EndSpanWithError(span, err) }()

	agg, now, err := e.mutate(ctx, instanceID, func(agg *Aggregate, now time.Time, actor string) ([]model.WorkflowEvent, error) {
		if agg.Instance.Status != model.WorkflowStatusActive {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("cannot pause workflow in status %q", agg.Instance.Status),
			)
		}
		sess := agg.OpenSession()
		if sess == nil {
			return nil, model.NewInvalidTransitionError("no open time session to pause")
		}
		if err := timing.Pause(sess, now); err != nil {
			return nil, err
		}
		agg.Instance.Status = model.WorkflowStatusPaused
		return []model.WorkflowEvent{
			newEvent(agg.Instance.ID, agg.Instance.CurrentStep, model.EventPaused, actor, "", now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	observability.RequestLogger(ctx, e.logger).Info("workflow paused",
		zap.String("instance_id", instanceID))
	return e.buildSnapshot(&agg, now), nil
}

// Resume reactivates a paused instance. The pause interval is folded into
// the session's paused total and never counts as worked time.
func (e *Engine) Resume(ctx context.Context, instanceID string) (snap *model.WorkflowSnapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.resume",
		observability.AttrInstanceID.String(instanceID))
	defer func() { observability.EndSpanWithError(span, err) }()

	agg, now, err := e.mutate(ctx, instanceID, func(agg *Aggregate, now time.Time, actor string) ([]model.WorkflowEvent, error) {
		if agg.Instance.Status != model.WorkflowStatusPaused {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("cannot resume workflow in status %q", agg.Instance.Status),
			)
		}
		sess := agg.OpenSession()
		if sess == nil {
			return nil, model.NewInvalidTransitionError("no open time session to resume")
		}
		if err := timing.Resume(sess, now); err != nil {
			return nil, err
		}
		agg.Instance.Status = model.WorkflowStatusActive
		return []model.WorkflowEvent{
			newEvent(agg.Instance.ID, agg.Instance.CurrentStep, model.EventResumed, actor, "", now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	observability.RequestLogger(ctx, e.logger).Info("workflow resumed",
		zap.String("instance_id", instanceID))
	return e.buildSnapshot(&agg, now), nil
}

// CompleteStep finalizes the step at stepIndex with its gap classification
// and advances to the next step, or completes the instance if it was the
// last. The caller states which step it believes is current; a stale index
// fails with INVALID_TRANSITION and no state change, so replaying a
// completion cannot finalize a step twice.
func (e *Engine) CompleteStep(ctx context.Context, instanceID string, stepIndex int, notes string) (*model.StepAdvance, error) {
	if len(notes) > maxNotesBytes {
		return nil, model.NewValidationError([]model.FieldError{{
			Field: "notes", Code: "too_long",
			Message: fmt.Sprintf("notes must not exceed %d bytes", maxNotesBytes),
		}})
	}
	return e.advance(ctx, instanceID, stepIndex, model.StepStatusCompleted, notes)
}

// SkipStep finalizes the step at stepIndex as skipped, recording the reason
// and the time spent, and advances. Skipped steps carry no gap
// classification and skipping is irreversible.
func (e *Engine) SkipStep(ctx context.Context, instanceID string, stepIndex int, reason string) (*model.StepAdvance, error) {
	if reason == "" {
		return nil, model.NewValidationError([]model.FieldError{{
			Field: "reason", Code: "required", Message: "a skip reason is required",
		}})
	}
	if len(reason) > maxNotesBytes {
		return nil, model.NewValidationError([]model.FieldError{{
			Field: "reason", Code: "too_long",
			Message: fmt.Sprintf("reason must not exceed %d bytes", maxNotesBytes),
		}})
	}
	return e.advance(ctx, instanceID, stepIndex, model.StepStatusSkipped, reason)
}

func (e *Engine) advance(ctx context.Context, instanceID string, stepIndex int, final model.StepStatus, notes string) (adv *model.StepAdvance, err error) {
	spanName := "workflow.complete_step"
	if final == model.StepStatusSkipped {
		spanName = "workflow.skip_step"
	}
	ctx, span := observability.StartSpan(ctx, spanName,
		observability.AttrInstanceID.String(instanceID),
		observability.AttrStepIndex.Int(stepIndex),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	tplID := ""
	agg, now, err := e.mutate(ctx, instanceID, func(agg *Aggregate, now time.Time, actor string) ([]model.WorkflowEvent, error) {
		inst := &agg.Instance
		tplID = inst.TemplateID
		if inst.Status != model.WorkflowStatusActive {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("cannot advance workflow in status %q", inst.Status),
			)
		}
		if stepIndex != inst.CurrentStep {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("step %d is not in progress (current step is %d)",
					stepIndex, inst.CurrentStep),
			)
		}
		step := agg.StepFor(stepIndex)
		if step == nil || step.Status != model.StepStatusInProgress {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("step %d is not in progress", stepIndex),
			)
		}
		sess := agg.SessionFor(stepIndex)
		if sess == nil || sess.Ended() {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("step %d has no open time session", stepIndex),
			)
		}

		actual, err := timing.Finalize(sess, now)
		if err != nil {
			return nil, err
		}
		step.Status = final
		step.Notes = notes
		step.ActualSeconds = actual
		t := now
		step.CompletedAt = &t
		if final == model.StepStatusCompleted {
			gap := variance.Classify(actual, e.estimateFor(inst.TemplateID, stepIndex))
			step.Gap = &gap
		}

		eventName := model.EventStepCompleted
		if final == model.StepStatusSkipped {
			eventName = model.EventStepSkipped
		}
		events := []model.WorkflowEvent{
			newEvent(inst.ID, stepIndex, eventName, actor, notes, now),
		}

		next := stepIndex + 1
		if next < len(agg.Steps) {
			inst.CurrentStep = next
			ns := agg.StepFor(next)
			ns.Status = model.StepStatusInProgress
			ns.StartedAt = now
			agg.Sessions = append(agg.Sessions, timing.Open(inst.ID, next, now))
			events = append(events, newEvent(inst.ID, next, model.EventStepEntered, actor, "", now))
		} else {
			inst.Status = model.WorkflowStatusCompleted
			ct := now
			inst.CompletedAt = &ct
			events = append(events, newEvent(inst.ID, stepIndex, model.EventCompleted, actor, "", now))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	finished := agg.StepFor(stepIndex)
	if finished.Gap != nil {
		span.SetAttributes(observability.AttrGapClass.String(string(finished.Gap.Class)))
	}
	log := observability.RequestLogger(ctx, e.logger)

	e.metrics.StepFinalized(tplID, final, gapClassOf(finished.Gap), finished.ActualSeconds)
	log.Info("step finalized",
		zap.String("instance_id", instanceID),
		zap.Int("step_index", stepIndex),
		zap.String("status", string(final)),
		zap.Int64("actual_seconds", finished.ActualSeconds),
	)

	adv = &model.StepAdvance{Finished: e.stepView(&agg, finished, now)}
	if agg.Instance.Status == model.WorkflowStatusCompleted {
		summary := e.completionSummary(&agg, now)
		adv.Summary = summary
		e.metrics.WorkflowFinished(tplID, model.WorkflowStatusCompleted)
		if summary.Aggregate != nil && summary.Aggregate.Class == model.GapOver {
			e.metrics.GapAlert(tplID)
			log.Warn("workflow finished over estimate",
				zap.String("instance_id", instanceID),
				zap.String("ticket_id", agg.Instance.TicketID),
				zap.Float64("gap_ratio", summary.Aggregate.Ratio),
			)
		}
		log.Info("workflow completed",
			zap.String("instance_id", instanceID),
			zap.Int64("total_actual_seconds", summary.TotalActualSeconds),
		)
	} else {
		nv := e.stepView(&agg, agg.StepFor(agg.Instance.CurrentStep), now)
		adv.Next = &nv
	}
	return adv, nil
}

// Cancel terminates a non-terminal instance, closing any open time session.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) (snap *model.WorkflowSnapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.cancel",
		observability.AttrInstanceID.String(instanceID))
	defer func() { observability.EndSpanWithError(span, err) }()

	agg, now, err := e.mutate(ctx, instanceID, func(agg *Aggregate, now time.Time, actor string) ([]model.WorkflowEvent, error) {
		if agg.Instance.Status.Terminal() {
			return nil, model.NewInvalidTransitionError(
				fmt.Sprintf("cannot cancel workflow in status %q", agg.Instance.Status),
			)
		}
		if sess := agg.OpenSession(); sess != nil {
			if _, err := timing.Finalize(sess, now); err != nil {
				return nil, err
			}
		}
		agg.Instance.Status = model.WorkflowStatusCancelled
		t := now
		agg.Instance.CompletedAt = &t
		return []model.WorkflowEvent{
			newEvent(agg.Instance.ID, agg.Instance.CurrentStep, model.EventCancelled, actor, reason, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.WorkflowFinished(agg.Instance.TemplateID, model.WorkflowStatusCancelled)
	observability.RequestLogger(ctx, e.logger).Info("workflow cancelled",
		zap.String("instance_id", instanceID),
		zap.String("reason", reason),
	)
	return e.buildSnapshot(&agg, now), nil
}

// GetState returns the live snapshot of an instance: per-step elapsed time
// computed from session timestamps at this instant, plus aggregate variance.
func (e *Engine) GetState(ctx context.Context, instanceID string) (*model.WorkflowSnapshot, error) {
	agg, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return e.buildSnapshot(&agg, e.now().UTC()), nil
}

// List returns instance summaries matching the filters plus the total match
// count before pagination.
func (e *Engine) List(ctx context.Context, filters model.ListFilters) ([]model.InstanceSummary, int, error) {
	aggs, total, err := e.store.List(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]model.InstanceSummary, 0, len(aggs))
	for i := range aggs {
		summaries = append(summaries, e.summarize(&aggs[i]))
	}
	return summaries, total, nil
}

// Events returns the audit trail of an instance in chronological order.
func (e *Engine) Events(ctx context.Context, instanceID string) ([]model.WorkflowEvent, error) {
	return e.store.GetEvents(ctx, instanceID)
}

// Recover verifies the invariants of every non-terminal instance after a
// restart. Because elapsed time is a pure function of persisted timestamps,
// there is nothing to rebuild: active sessions simply keep accruing and
// paused sessions stay frozen. Recover logs what it found and flags any
// instance whose session state is inconsistent.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	aggs, _, err := e.store.List(ctx, model.ListFilters{})
	if err != nil {
		return 0, err
	}

	now := e.now().UTC()
	recovered := 0
	for i := range aggs {
		agg := &aggs[i]
		if agg.Instance.Status.Terminal() {
			continue
		}
		recovered++
		e.metrics.WorkflowRecovered(agg.Instance.TemplateID)

		if n := agg.ActiveSessionCount(); n > 1 {
			e.logger.Error("instance has multiple active sessions",
				zap.String("instance_id", agg.Instance.ID),
				zap.Int("active_sessions", n),
			)
			continue
		}
		sess := agg.OpenSession()
		if sess == nil {
			e.logger.Error("non-terminal instance has no open session",
				zap.String("instance_id", agg.Instance.ID),
				zap.String("status", string(agg.Instance.Status)),
			)
			continue
		}
		e.logger.Info("recovered workflow instance",
			zap.String("instance_id", agg.Instance.ID),
			zap.String("ticket_id", agg.Instance.TicketID),
			zap.String("status", string(agg.Instance.Status)),
			zap.Int("current_step", agg.Instance.CurrentStep),
			zap.Int64("elapsed_seconds", timing.Elapsed(sess, now)),
		)
	}

	e.logger.Info("workflow recovery complete", zap.Int("instances", recovered))
	return recovered, nil
}

// mutate runs one read-validate-write cycle against an instance. The
// aggregate is loaded at its current version, fn mutates it in memory, and
// the store's version check decides the winner if two writers raced: the
// loser's Update fails with CONFLICT and none of its changes are applied.
func (e *Engine) mutate(ctx context.Context, instanceID string, fn func(agg *Aggregate, now time.Time, actor string) ([]model.WorkflowEvent, error)) (Aggregate, time.Time, error) {
	agg, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return Aggregate{}, time.Time{}, err
	}

	now := e.now().UTC()
	actor := actorFrom(ctx)
	events, err := fn(&agg, now, actor)
	if err != nil {
		return Aggregate{}, time.Time{}, err
	}

	unlock := e.locks.acquire(instanceID)
	defer unlock()
	if err := e.store.Update(ctx, agg, events); err != nil {
		return Aggregate{}, time.Time{}, err
	}
	agg.Instance.Version++
	agg.Instance.UpdatedAt = now
	return agg, now, nil
}

// estimateFor returns the estimate for one step, or zero when the template
// is no longer registered. A zero estimate classifies as Unrated.
func (e *Engine) estimateFor(templateID string, stepIndex int) int64 {
	tpl, ok := e.registry.Get(templateID)
	if !ok || stepIndex >= len(tpl.Steps) {
		return 0
	}
	return tpl.Steps[stepIndex].EstimatedSeconds
}

// actorFrom returns the caller identity, or empty when the context carries
// no request context (recovery, tests).
func actorFrom(ctx context.Context) string {
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		return rctx.SubjectID
	}
	return ""
}

func newEvent(instanceID string, stepIndex int, name, actor, comment string, now time.Time) model.WorkflowEvent {
	return model.WorkflowEvent{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StepIndex:  stepIndex,
		Event:      name,
		ActorID:    actor,
		Comment:    comment,
		Timestamp:  now,
	}
}

func gapClassOf(gap *model.GapReport) model.GapClass {
	if gap == nil {
		return model.GapUnrated
	}
	return gap.Class
}
