package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qatrail/qatrail/internal/template"
	"github.com/qatrail/qatrail/model"
)

func handleListTemplates(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var templates []model.WorkflowTemplate
		if category := r.URL.Query().Get("category"); category != "" {
			templates = registry.ByCategory(category)
		} else {
			templates = registry.All()
		}

		summaries := make([]model.TemplateSummary, 0, len(templates))
		for i := range templates {
			summaries = append(summaries, templates[i].Summary())
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": summaries})
	}
}

func handleGetTemplate(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID := chi.URLParam(r, "templateID")

		tpl, ok := registry.Get(templateID)
		if !ok {
			WriteError(w, model.NewNotFoundError(
				fmt.Sprintf("workflow template %q not found", templateID),
			))
			return
		}
		WriteJSON(w, http.StatusOK, tpl)
	}
}
