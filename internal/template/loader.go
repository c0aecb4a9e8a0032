// Package template loads workflow templates from YAML files and serves them
// from a fast-lookup registry with atomic pointer swap. Templates are
// immutable once registered: the engine reads step sequences and estimates,
// nothing here ever mutates them.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qatrail/qatrail/model"
)

// Loader scans directories for YAML template files and parses them.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into a WorkflowTemplate. Missing directories are skipped so a
// deployment can run on seeded defaults alone.
func (l *Loader) LoadAll(directories []string) ([]model.WorkflowTemplate, error) {
	var templates []model.WorkflowTemplate

	for _, dir := range directories {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			tpl, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			templates = append(templates, tpl)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return templates, nil
}

// LoadFile loads and parses a single YAML template file, then validates it.
func (l *Loader) LoadFile(path string) (model.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var tpl model.WorkflowTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	tpl.CreatedAt = time.Now().UTC()

	if err := Validate(&tpl); err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("validating %s: %w", path, err)
	}
	return tpl, nil
}

// Validate checks the structural rules for a template: non-empty ID, name
// and category, at least one step, unique step names, and non-negative
// estimates. A zero estimate is allowed; such steps are classified Unrated.
func Validate(tpl *model.WorkflowTemplate) error {
	if tpl.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if tpl.Name == "" {
		return fmt.Errorf("template %q: name is required", tpl.ID)
	}
	if tpl.Category == "" {
		return fmt.Errorf("template %q: category is required", tpl.ID)
	}
	if len(tpl.Steps) == 0 {
		return fmt.Errorf("template %q: at least one step is required", tpl.ID)
	}

	seen := make(map[string]bool, len(tpl.Steps))
	for i, s := range tpl.Steps {
		if s.Name == "" {
			return fmt.Errorf("template %q: step %d has no name", tpl.ID, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("template %q: duplicate step name %q", tpl.ID, s.Name)
		}
		seen[s.Name] = true
		if s.EstimatedSeconds < 0 {
			return fmt.Errorf("template %q: step %q has a negative estimate", tpl.ID, s.Name)
		}
	}
	return nil
}
