package model

import "time"

// Work item categories a template can target.
const (
	CategoryBug        = "bug"
	CategoryFeature    = "feature"
	CategoryRegression = "regression"
	CategoryCustom     = "custom"
)

// StepSpec describes a single step within a workflow template: what to do
// and how long it is expected to take.
type StepSpec struct {
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description" yaml:"description"`
	EstimatedSeconds int64  `json:"estimated_seconds" yaml:"estimated_seconds"`
}

// WorkflowTemplate is an immutable ordered sequence of steps for a work-item
// category. Templates are authored externally; the engine only reads them.
type WorkflowTemplate struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Category    string     `json:"category" yaml:"category"`
	Steps       []StepSpec `json:"steps" yaml:"steps"`
	IsDefault   bool       `json:"is_default" yaml:"is_default"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
}

// TotalEstimatedSeconds returns the sum of all step estimates.
func (t *WorkflowTemplate) TotalEstimatedSeconds() int64 {
	var total int64
	for _, s := range t.Steps {
		total += s.EstimatedSeconds
	}
	return total
}

// TemplateSummary is a lightweight representation of a template used in
// list views.
type TemplateSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category"`
	StepCount        int    `json:"step_count"`
	EstimatedSeconds int64  `json:"estimated_seconds"`
	IsDefault        bool   `json:"is_default"`
}

// Summary converts a template to its list representation.
func (t *WorkflowTemplate) Summary() TemplateSummary {
	return TemplateSummary{
		ID:               t.ID,
		Name:             t.Name,
		Description:      t.Description,
		Category:         t.Category,
		StepCount:        len(t.Steps),
		EstimatedSeconds: t.TotalEstimatedSeconds(),
		IsDefault:        t.IsDefault,
	}
}
