package model

import "time"

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

// Workflow instance statuses.
const (
	WorkflowStatusNotStarted WorkflowStatus = "not_started"
	WorkflowStatusActive     WorkflowStatus = "active"
	WorkflowStatusPaused     WorkflowStatus = "paused"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusCancelled
}

// Valid reports whether s is one of the defined statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusNotStarted, WorkflowStatusActive, WorkflowStatusPaused,
		WorkflowStatusCompleted, WorkflowStatusCancelled:
		return true
	}
	return false
}

// StepStatus is the completion state of a single step within an instance.
type StepStatus string

// Step statuses. For a given instance the statuses form a prefix of
// completed/skipped entries, then at most one in_progress entry at the
// instance's current step index, then pending entries.
const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
)

// Finalized reports whether the step has recorded its final actual time.
func (s StepStatus) Finalized() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// WorkflowInstance is one run of a template against a ticket.
type WorkflowInstance struct {
	ID          string         `json:"id"`
	TemplateID  string         `json:"template_id"`
	TicketID    string         `json:"ticket_id"`
	OwnerID     string         `json:"owner_id"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep int            `json:"current_step"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int            `json:"version"`
}

// StepResult records the outcome of one step of one instance.
// ActualSeconds and Gap are populated only once the step is finalized;
// skipped steps record actual time but carry no gap classification.
type StepResult struct {
	ID            string     `json:"id"`
	InstanceID    string     `json:"instance_id"`
	StepIndex     int        `json:"step_index"`
	Status        StepStatus `json:"status"`
	Notes         string     `json:"notes,omitempty"`
	ActualSeconds int64      `json:"actual_seconds"`
	Gap           *GapReport `json:"gap,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// WorkflowEvent records one transition in an instance's audit trail.
type WorkflowEvent struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	StepIndex  int       `json:"step_index"`
	Event      string    `json:"event"`
	ActorID    string    `json:"actor_id"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Audit trail event names.
const (
	EventStarted       = "started"
	EventPaused        = "paused"
	EventResumed       = "resumed"
	EventStepCompleted = "step_completed"
	EventStepSkipped   = "step_skipped"
	EventStepEntered   = "step_entered"
	EventCompleted     = "workflow_completed"
	EventCancelled     = "cancelled"
)
