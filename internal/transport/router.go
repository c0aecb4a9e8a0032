package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qatrail/qatrail/internal/config"
	"github.com/qatrail/qatrail/internal/observability"
	"github.com/qatrail/qatrail/internal/template"
	"github.com/qatrail/qatrail/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Engine   *workflow.Engine
	Registry *template.Registry
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Checks   observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// request-scoped middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Checks))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// API routes — full middleware chain.
	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(InjectLogger(deps.Logger))
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/api/templates", handleListTemplates(deps.Registry))
		r.Get("/api/templates/{templateID}", handleGetTemplate(deps.Registry))

		r.Post("/api/workflows", handleStartWorkflow(deps.Engine))
		r.Get("/api/workflows", handleListWorkflows(deps.Engine))
		r.Get("/api/workflows/{instanceID}", handleGetWorkflow(deps.Engine))
		r.Post("/api/workflows/{instanceID}/pause", handlePauseWorkflow(deps.Engine))
		r.Post("/api/workflows/{instanceID}/resume", handleResumeWorkflow(deps.Engine))
		r.Post("/api/workflows/{instanceID}/steps/complete", handleCompleteStep(deps.Engine))
		r.Post("/api/workflows/{instanceID}/steps/skip", handleSkipStep(deps.Engine))
		r.Post("/api/workflows/{instanceID}/cancel", handleCancelWorkflow(deps.Engine))
		r.Get("/api/workflows/{instanceID}/events", handleWorkflowEvents(deps.Engine))
	})

	return r
}
