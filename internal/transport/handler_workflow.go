package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qatrail/qatrail/internal/workflow"
	"github.com/qatrail/qatrail/model"
)

func handleStartWorkflow(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}

		var req workflow.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		snap, err := engine.Start(r.Context(), req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, snap)
	}
}

func handleGetWorkflow(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := chi.URLParam(r, "instanceID")

		snap, err := engine.GetState(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func handlePauseWorkflow(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}
		instanceID := chi.URLParam(r, "instanceID")

		snap, err := engine.Pause(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func handleResumeWorkflow(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}
		instanceID := chi.URLParam(r, "instanceID")

		snap, err := engine.Resume(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func handleCompleteStep(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}
		instanceID := chi.URLParam(r, "instanceID")

		var body struct {
			StepIndex int    `json:"step_index"`
			Notes     string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		adv, err := engine.CompleteStep(r.Context(), instanceID, body.StepIndex, body.Notes)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, adv)
	}
}

func handleSkipStep(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}
		instanceID := chi.URLParam(r, "instanceID")

		var body struct {
			StepIndex int    `json:"step_index"`
			Reason    string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		adv, err := engine.SkipStep(r.Context(), instanceID, body.StepIndex, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, adv)
	}
}

func handleCancelWorkflow(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireSubject(w, r) {
			return
		}
		instanceID := chi.URLParam(r, "instanceID")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		snap, err := engine.Cancel(r.Context(), instanceID, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func handleWorkflowEvents(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := chi.URLParam(r, "instanceID")

		events, err := engine.Events(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleListWorkflows(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := model.ListFilters{
			Status:   model.WorkflowStatus(r.URL.Query().Get("status")),
			TicketID: r.URL.Query().Get("ticket_id"),
			OwnerID:  r.URL.Query().Get("owner_id"),
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "page_size", 20),
		}
		if raw := r.URL.Query().Get("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				WriteError(w, model.NewBadRequestError("since must be an RFC 3339 timestamp"))
				return
			}
			filters.Since = &since
		}

		summaries, totalCount, err := engine.List(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": totalCount,
			"page":        filters.Page,
			"page_size":   filters.PageSize,
		})
	}
}

// requireSubject rejects mutating requests that carry no caller identity.
func requireSubject(w http.ResponseWriter, r *http.Request) bool {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil || rctx.SubjectID == "" {
		WriteError(w, model.NewBadRequestError("X-User-Id header is required"))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
