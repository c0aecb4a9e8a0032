package model

import "time"

// StepView is the live read-model for one step: spec data joined with the
// step result and, for the step in progress, elapsed time computed at read
// time from the session timestamps.
type StepView struct {
	Index            int        `json:"index"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Status           StepStatus `json:"status"`
	Notes            string     `json:"notes,omitempty"`
	EstimatedSeconds int64      `json:"estimated_seconds"`
	ElapsedSeconds   int64      `json:"elapsed_seconds"`
	Gap              *GapReport `json:"gap,omitempty"`
}

// WorkflowSnapshot is the full live state of an instance as returned by
// getWorkflowState: status, the step list with per-step elapsed and gap, and
// instance-level totals. It is a derived view; the display never stores its
// own cursor.
type WorkflowSnapshot struct {
	InstanceID            string         `json:"instance_id"`
	TemplateID            string         `json:"template_id"`
	TemplateName          string         `json:"template_name"`
	TicketID              string         `json:"ticket_id"`
	OwnerID               string         `json:"owner_id"`
	Status                WorkflowStatus `json:"status"`
	CurrentStep           int            `json:"current_step"`
	Steps                 []StepView     `json:"steps"`
	TotalElapsedSeconds   int64          `json:"total_elapsed_seconds"`
	TotalEstimatedSeconds int64          `json:"total_estimated_seconds"`
	Aggregate             *GapReport     `json:"aggregate,omitempty"`
	StartedAt             time.Time      `json:"started_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	Version               int            `json:"version"`
}

// CompletionSummary is returned when finishing or skipping the last step
// completes the instance.
type CompletionSummary struct {
	InstanceID            string     `json:"instance_id"`
	TicketID              string     `json:"ticket_id"`
	CompletedSteps        int        `json:"completed_steps"`
	SkippedSteps          int        `json:"skipped_steps"`
	TotalActualSeconds    int64      `json:"total_actual_seconds"`
	TotalEstimatedSeconds int64      `json:"total_estimated_seconds"`
	Aggregate             *GapReport `json:"aggregate,omitempty"`
	CompletedAt           time.Time  `json:"completed_at"`
}

// StepAdvance is the result of completeStep/skipStep: the finalized step,
// plus either the next step now in progress or the completion summary when
// no steps remain.
type StepAdvance struct {
	Finished StepView           `json:"finished"`
	Next     *StepView          `json:"next,omitempty"`
	Summary  *CompletionSummary `json:"summary,omitempty"`
}

// Done reports whether the advance completed the instance.
func (a *StepAdvance) Done() bool {
	return a.Summary != nil
}

// InstanceSummary is a lightweight representation of an instance used in
// list views for reporting consumers.
type InstanceSummary struct {
	ID                    string         `json:"id"`
	TemplateID            string         `json:"template_id"`
	TicketID              string         `json:"ticket_id"`
	OwnerID               string         `json:"owner_id"`
	Status                WorkflowStatus `json:"status"`
	CurrentStep           int            `json:"current_step"`
	TotalActualSeconds    int64          `json:"total_actual_seconds"`
	TotalEstimatedSeconds int64          `json:"total_estimated_seconds"`
	Aggregate             *GapReport     `json:"aggregate,omitempty"`
	StartedAt             time.Time      `json:"started_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
}

// ListFilters narrows instance listings. Zero values mean "no filter".
type ListFilters struct {
	Status   WorkflowStatus
	TicketID string
	OwnerID  string
	Since    *time.Time
	Page     int
	PageSize int
}
