package template

import (
	"sort"
	"sync/atomic"

	"github.com/qatrail/qatrail/model"
)

// snapshot is an immutable collection of templates indexed by ID.
type snapshot struct {
	byID       map[string]model.WorkflowTemplate
	byCategory map[string][]model.WorkflowTemplate
	ordered    []model.WorkflowTemplate
}

// Registry is a read-optimized, thread-safe catalog of workflow templates.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given templates.
func NewRegistry(templates []model.WorkflowTemplate) *Registry {
	r := &Registry{}
	r.Replace(templates)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given templates.
func (r *Registry) Replace(templates []model.WorkflowTemplate) {
	s := &snapshot{
		byID:       make(map[string]model.WorkflowTemplate, len(templates)),
		byCategory: make(map[string][]model.WorkflowTemplate),
	}

	for _, tpl := range templates {
		s.byID[tpl.ID] = tpl
		s.byCategory[tpl.Category] = append(s.byCategory[tpl.Category], tpl)
		s.ordered = append(s.ordered, tpl)
	}

	// Defaults first, then by name, matching the original catalog ordering.
	sort.SliceStable(s.ordered, func(i, j int) bool {
		if s.ordered[i].IsDefault != s.ordered[j].IsDefault {
			return s.ordered[i].IsDefault
		}
		return s.ordered[i].Name < s.ordered[j].Name
	})

	r.snap.Store(s)
}

// Get returns the template with the given ID.
func (r *Registry) Get(id string) (model.WorkflowTemplate, bool) {
	s := r.snap.Load()
	tpl, ok := s.byID[id]
	return tpl, ok
}

// ByCategory returns all templates for a work-item category.
func (r *Registry) ByCategory(category string) []model.WorkflowTemplate {
	s := r.snap.Load()
	return s.byCategory[category]
}

// All returns every registered template, defaults first.
func (r *Registry) All() []model.WorkflowTemplate {
	s := r.snap.Load()
	out := make([]model.WorkflowTemplate, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.snap.Load().byID)
}
