package template

import (
	"strings"
	"testing"

	"github.com/qatrail/qatrail/model"
)

func TestLoadAll(t *testing.T) {
	loader := NewLoader()
	templates, err := loader.LoadAll([]string{"testdata"})
	if err != nil {
		// testdata/bad is scanned too, so LoadAll over the whole tree fails.
		if !strings.Contains(err.Error(), "at least one step") {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	t.Fatalf("expected validation error from testdata/bad, got %d templates", len(templates))
}

func TestLoadAll_recursesAndAcceptsYml(t *testing.T) {
	loader := NewLoader()
	templates, err := loader.LoadAll([]string{"testdata/more"})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("templates = %d, want 1", len(templates))
	}
	if templates[0].ID != "accessibility-audit" {
		t.Errorf("ID = %q", templates[0].ID)
	}
}

func TestLoadAll_missingDirectorySkipped(t *testing.T) {
	loader := NewLoader()
	templates, err := loader.LoadAll([]string{"testdata/does-not-exist"})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(templates) != 0 {
		t.Errorf("templates = %d, want 0", len(templates))
	}
}

func TestLoadFile(t *testing.T) {
	loader := NewLoader()
	tpl, err := loader.LoadFile("testdata/hotfix.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if tpl.ID != "hotfix-verify" || tpl.Name != "Hotfix Verification" {
		t.Errorf("template = %+v", tpl)
	}
	if tpl.Category != model.CategoryBug {
		t.Errorf("category = %q", tpl.Category)
	}
	if len(tpl.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(tpl.Steps))
	}
	if tpl.Steps[1].EstimatedSeconds != 900 {
		t.Errorf("step 1 estimate = %d", tpl.Steps[1].EstimatedSeconds)
	}
	if tpl.TotalEstimatedSeconds() != 1500 {
		t.Errorf("total estimate = %d", tpl.TotalEstimatedSeconds())
	}
	if tpl.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on load")
	}
}

func TestLoadFile_invalid(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.LoadFile("testdata/bad/nosteps.yaml"); err == nil {
		t.Fatal("expected validation error for template with no steps")
	}
}

func TestValidate(t *testing.T) {
	valid := model.WorkflowTemplate{
		ID:       "x",
		Name:     "X",
		Category: model.CategoryCustom,
		Steps:    []model.StepSpec{{Name: "only"}},
	}
	if err := Validate(&valid); err != nil {
		t.Errorf("valid template rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*model.WorkflowTemplate)
	}{
		{"missing id", func(tpl *model.WorkflowTemplate) { tpl.ID = "" }},
		{"missing name", func(tpl *model.WorkflowTemplate) { tpl.Name = "" }},
		{"missing category", func(tpl *model.WorkflowTemplate) { tpl.Category = "" }},
		{"no steps", func(tpl *model.WorkflowTemplate) { tpl.Steps = nil }},
		{"unnamed step", func(tpl *model.WorkflowTemplate) {
			tpl.Steps = []model.StepSpec{{Name: ""}}
		}},
		{"duplicate step names", func(tpl *model.WorkflowTemplate) {
			tpl.Steps = []model.StepSpec{{Name: "dup"}, {Name: "dup"}}
		}},
		{"negative estimate", func(tpl *model.WorkflowTemplate) {
			tpl.Steps = []model.StepSpec{{Name: "s", EstimatedSeconds: -1}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := valid
			tpl.Steps = append([]model.StepSpec(nil), valid.Steps...)
			tc.mutate(&tpl)
			if err := Validate(&tpl); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_zeroEstimateAllowed(t *testing.T) {
	tpl := model.WorkflowTemplate{
		ID:       "x",
		Name:     "X",
		Category: model.CategoryCustom,
		Steps:    []model.StepSpec{{Name: "untimed", EstimatedSeconds: 0}},
	}
	if err := Validate(&tpl); err != nil {
		t.Errorf("zero estimate should be allowed: %v", err)
	}
}
