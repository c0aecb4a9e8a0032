// Package integration provides a reusable harness for end-to-end testing of
// the qatrail server: a full HTTP server over an in-memory store, with a
// controllable clock so elapsed-time assertions are deterministic.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qatrail/qatrail/internal/config"
	"github.com/qatrail/qatrail/internal/observability"
	"github.com/qatrail/qatrail/internal/template"
	"github.com/qatrail/qatrail/internal/transport"
	"github.com/qatrail/qatrail/internal/workflow"
	"github.com/qatrail/qatrail/model"
)

// Clock is a settable time source shared between the harness and the engine.
type Clock struct {
	mu    sync.Mutex
	epoch time.Time
	t     time.Time
}

// NewClock creates a clock starting at a fixed instant.
func NewClock() *Clock {
	epoch := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &Clock{epoch: epoch, t: epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to epoch + seconds.
func (c *Clock) Set(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.epoch.Add(time.Duration(seconds) * time.Second)
}

// TestHarness encapsulates a fully wired qatrail instance.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Clock    *Clock
	Store    workflow.Store
	Registry *template.Registry
	Engine   *workflow.Engine
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	templates []model.WorkflowTemplate
	store     workflow.Store
}

// WithTemplates overrides the seeded default templates.
func WithTemplates(templates ...model.WorkflowTemplate) HarnessOption {
	return func(c *harnessConfig) { c.templates = templates }
}

// WithStore runs the harness over an existing store, for restart scenarios.
func WithStore(store workflow.Store) HarnessOption {
	return func(c *harnessConfig) { c.store = store }
}

// NewTestHarness creates and starts a full qatrail test instance. The server
// is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.templates) == 0 {
		hc.templates = template.DefaultTemplates()
	}
	if hc.store == nil {
		hc.store = workflow.NewMemStore()
	}

	h := &TestHarness{
		t:        t,
		Clock:    NewClock(),
		Store:    hc.store,
		Registry: template.NewRegistry(hc.templates),
	}
	h.Engine = workflow.NewEngine(h.Store, h.Registry, zap.NewNop(),
		workflow.WithClock(h.Clock.Now))

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Observability.Metrics.Enabled = false

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Engine:   h.Engine,
		Registry: h.Registry,
		Logger:   zap.NewNop(),
		Checks: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return h.Registry.Len() > 0 },
			WorkflowStore:   h.Store,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// GET performs a GET request as the given user.
func (h *TestHarness) GET(path, userID string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, userID)
}

// POST performs a POST request with a JSON body as the given user.
func (h *TestHarness) POST(path string, body any, userID string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, userID)
}

func (h *TestHarness) doRequest(method, path string, body any, userID string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	} else if method == "POST" {
		bodyReader = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertJSON checks that the response has the expected status and parses the
// body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
