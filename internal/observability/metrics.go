package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qatrail/qatrail/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// Step durations are human work, not machine latency: minutes to hours.
	stepDurationBuckets = []float64{60, 300, 600, 1200, 1800, 3600, 7200, 14400, 28800}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal     *prometheus.CounterVec
	WorkflowFinishedTotal   *prometheus.CounterVec
	WorkflowActiveInstances *prometheus.GaugeVec
	StepFinalizationsTotal  *prometheus.CounterVec
	StepDurationSeconds     *prometheus.HistogramVec
	GapClassificationsTotal *prometheus.CounterVec
	GapAlertsTotal          *prometheus.CounterVec

	// System metrics
	TemplatesLoaded         prometheus.Gauge
	InstancesRecoveredTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qatrail_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qatrail_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qatrail_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_workflow_starts_total",
			Help: "Total number of workflow instances started.",
		}, []string{"template_id"}),
		WorkflowFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_workflow_finished_total",
			Help: "Total number of workflow instances finished, by final status.",
		}, []string{"template_id", "final_status"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qatrail_workflow_active_instances",
			Help: "Number of non-terminal workflow instances.",
		}, []string{"template_id"}),
		StepFinalizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_step_finalizations_total",
			Help: "Total number of steps finalized, by outcome.",
		}, []string{"template_id", "status"}),
		StepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qatrail_step_duration_seconds",
			Help:    "Actual worked seconds per finalized step.",
			Buckets: stepDurationBuckets,
		}, []string{"template_id"}),
		GapClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_gap_classifications_total",
			Help: "Total number of gap classifications assigned to completed steps.",
		}, []string{"template_id", "class"}),
		GapAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qatrail_gap_alerts_total",
			Help: "Total number of workflow completions whose aggregate exceeded 120% of estimate.",
		}, []string{"template_id"}),

		// System
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qatrail_templates_loaded",
			Help: "Number of registered workflow templates.",
		}),
		InstancesRecoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qatrail_instances_recovered_total",
			Help: "Total number of non-terminal instances verified at startup.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowFinishedTotal,
		m.WorkflowActiveInstances,
		m.StepFinalizationsTotal,
		m.StepDurationSeconds,
		m.GapClassificationsTotal,
		m.GapAlertsTotal,
		// System
		m.TemplatesLoaded,
		m.InstancesRecoveredTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// WorkflowStarted records a workflow start.
func (m *Metrics) WorkflowStarted(templateID string) {
	m.WorkflowStartsTotal.WithLabelValues(templateID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(templateID).Inc()
}

// WorkflowFinished records a workflow reaching a terminal status.
func (m *Metrics) WorkflowFinished(templateID string, status model.WorkflowStatus) {
	m.WorkflowFinishedTotal.WithLabelValues(templateID, string(status)).Inc()
	m.WorkflowActiveInstances.WithLabelValues(templateID).Dec()
}

// WorkflowRecovered counts a non-terminal instance found at startup back into
// the active gauge, which otherwise starts at zero after a restart.
func (m *Metrics) WorkflowRecovered(templateID string) {
	m.WorkflowActiveInstances.WithLabelValues(templateID).Inc()
}

// StepFinalized records a step completion or skip with its gap class.
func (m *Metrics) StepFinalized(templateID string, status model.StepStatus, class model.GapClass, actualSeconds int64) {
	m.StepFinalizationsTotal.WithLabelValues(templateID, string(status)).Inc()
	m.StepDurationSeconds.WithLabelValues(templateID).Observe(float64(actualSeconds))
	if status == model.StepStatusCompleted {
		m.GapClassificationsTotal.WithLabelValues(templateID, string(class)).Inc()
	}
}

// GapAlert counts a completion whose aggregate classified as over estimate.
func (m *Metrics) GapAlert(templateID string) {
	m.GapAlertsTotal.WithLabelValues(templateID).Inc()
}

// SetTemplatesLoaded sets the number of registered templates.
func (m *Metrics) SetTemplatesLoaded(count float64) {
	m.TemplatesLoaded.Set(count)
}

// RecordInstancesRecovered counts instances verified during startup recovery.
func (m *Metrics) RecordInstancesRecovered(count int) {
	m.InstancesRecoveredTotal.Add(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
