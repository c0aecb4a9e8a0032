package workflow

import (
	"time"

	"github.com/qatrail/qatrail/internal/timing"
	"github.com/qatrail/qatrail/internal/variance"
	"github.com/qatrail/qatrail/model"
)

// buildSnapshot derives the live read-model for an instance at the given
// instant. It never mutates the aggregate. When the template has been
// unregistered since the instance started, names and estimates degrade to
// empty and zero; the step structure itself survives in the step results.
func (e *Engine) buildSnapshot(agg *Aggregate, now time.Time) *model.WorkflowSnapshot {
	tpl, _ := e.registry.Get(agg.Instance.TemplateID)

	snap := &model.WorkflowSnapshot{
		InstanceID:   agg.Instance.ID,
		TemplateID:   agg.Instance.TemplateID,
		TemplateName: tpl.Name,
		TicketID:     agg.Instance.TicketID,
		OwnerID:      agg.Instance.OwnerID,
		Status:       agg.Instance.Status,
		CurrentStep:  agg.Instance.CurrentStep,
		StartedAt:    agg.Instance.StartedAt,
		CompletedAt:  agg.Instance.CompletedAt,
		Version:      agg.Instance.Version,
	}

	for i := range agg.Steps {
		view := e.stepView(agg, &agg.Steps[i], now)
		snap.Steps = append(snap.Steps, view)
		snap.TotalElapsedSeconds += view.ElapsedSeconds
		snap.TotalEstimatedSeconds += view.EstimatedSeconds
	}
	if gap, ok := aggregateGap(agg, tpl.Steps); ok {
		snap.Aggregate = &gap
	}
	return snap
}

// stepView joins one step result with its template spec and computes the
// elapsed seconds to show: the recorded actual for finalized steps, the
// session-derived live value for the step in progress, zero for pending.
func (e *Engine) stepView(agg *Aggregate, sr *model.StepResult, now time.Time) model.StepView {
	view := model.StepView{
		Index:  sr.StepIndex,
		Status: sr.Status,
		Notes:  sr.Notes,
		Gap:    sr.Gap,
	}
	if tpl, ok := e.registry.Get(agg.Instance.TemplateID); ok && sr.StepIndex < len(tpl.Steps) {
		spec := tpl.Steps[sr.StepIndex]
		view.Name = spec.Name
		view.Description = spec.Description
		view.EstimatedSeconds = spec.EstimatedSeconds
	}

	switch {
	case sr.Status.Finalized():
		view.ElapsedSeconds = sr.ActualSeconds
	case sr.Status == model.StepStatusInProgress:
		if sess := agg.SessionFor(sr.StepIndex); sess != nil {
			view.ElapsedSeconds = timing.Elapsed(sess, now)
		}
	}
	return view
}

// completionSummary builds the terminal report for a completed instance.
func (e *Engine) completionSummary(agg *Aggregate, now time.Time) *model.CompletionSummary {
	tpl, _ := e.registry.Get(agg.Instance.TemplateID)

	summary := &model.CompletionSummary{
		InstanceID:            agg.Instance.ID,
		TicketID:              agg.Instance.TicketID,
		TotalEstimatedSeconds: tpl.TotalEstimatedSeconds(),
		CompletedAt:           now,
	}
	if agg.Instance.CompletedAt != nil {
		summary.CompletedAt = *agg.Instance.CompletedAt
	}
	for i := range agg.Steps {
		switch agg.Steps[i].Status {
		case model.StepStatusCompleted:
			summary.CompletedSteps++
			summary.TotalActualSeconds += agg.Steps[i].ActualSeconds
		case model.StepStatusSkipped:
			summary.SkippedSteps++
			summary.TotalActualSeconds += agg.Steps[i].ActualSeconds
		}
	}
	if gap, ok := aggregateGap(agg, tpl.Steps); ok {
		summary.Aggregate = &gap
	}
	return summary
}

// summarize builds the list-view representation of an instance. Actual time
// covers finalized steps only; live in-progress elapsed belongs to the full
// snapshot, not the list view.
func (e *Engine) summarize(agg *Aggregate) model.InstanceSummary {
	tpl, _ := e.registry.Get(agg.Instance.TemplateID)

	summary := model.InstanceSummary{
		ID:                    agg.Instance.ID,
		TemplateID:            agg.Instance.TemplateID,
		TicketID:              agg.Instance.TicketID,
		OwnerID:               agg.Instance.OwnerID,
		Status:                agg.Instance.Status,
		CurrentStep:           agg.Instance.CurrentStep,
		TotalEstimatedSeconds: tpl.TotalEstimatedSeconds(),
		StartedAt:             agg.Instance.StartedAt,
		CompletedAt:           agg.Instance.CompletedAt,
	}
	for i := range agg.Steps {
		if agg.Steps[i].Status.Finalized() {
			summary.TotalActualSeconds += agg.Steps[i].ActualSeconds
		}
	}
	if gap, ok := aggregateGap(agg, tpl.Steps); ok {
		summary.Aggregate = &gap
	}
	return summary
}

// aggregateGap classifies the instance as a whole. It reports false until at
// least one step has been reached, so a snapshot never carries a meaningless
// verdict.
func aggregateGap(agg *Aggregate, specs []model.StepSpec) (model.GapReport, bool) {
	reached := false
	for i := range agg.Steps {
		if agg.Steps[i].Status != model.StepStatusPending {
			reached = true
			break
		}
	}
	if !reached {
		return model.GapReport{}, false
	}
	return variance.Aggregate(agg.Steps, specs), true
}
