// Package ops serves the operational JSON API: sandbox and session
// administration, workflow inspection, replay trails, breaker and scheduler
// state, Prometheus metrics, and the live event streams (SSE and the session
// WebSocket). It is an operator surface, not a tenant-facing one, and renders
// every failure as the engine's structured error JSON.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lotwise/driveline/internal/breaker"
	"github.com/lotwise/driveline/internal/budget"
	"github.com/lotwise/driveline/internal/engine"
	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/scheduler"
	"github.com/lotwise/driveline/internal/tenant"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/pkg/schema"
)

// Deps holds the collaborators the API exposes. Tenants, Budget and Engine
// are required; the rest are optional and their routes are only mounted when
// the dependency is present.
type Deps struct {
	Tenants   *tenant.Manager
	Budget    *budget.Tracker
	Engine    *engine.Engine
	Tools     *tools.Registry
	Breakers  *breaker.Registry
	Scheduler *scheduler.Scheduler
	Bus       events.Bus
	Push      http.Handler
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger

	// DefaultLimits fills limit fields a sandbox create request omits. Zero
	// fields here mean the request must spell out every limit.
	DefaultLimits schema.SandboxLimits
}

// Server owns the HTTP listener for the ops API.
type Server struct {
	deps Deps
	srv  *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	err      error
}

// NewServer builds the server on addr. Pass ":0" to let the kernel pick a
// port; Addr reports the bound address after Start.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{deps: deps}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// SSE and WebSocket connections stay open indefinitely, so only the
		// header read is bounded.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the route table. Exposed separately so tests can drive the
// API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /api/sandboxes", s.handleListSandboxes)
	mux.HandleFunc("POST /api/sandboxes", s.handleCreateSandbox)
	mux.HandleFunc("GET /api/sandboxes/{id}", s.handleGetSandbox)
	mux.HandleFunc("PUT /api/sandboxes/{id}/limits", s.handleUpdateLimits)
	mux.HandleFunc("POST /api/sandboxes/{id}/deactivate", s.handleDeactivateSandbox)
	mux.HandleFunc("GET /api/sandboxes/{id}/usage", s.handleSandboxUsage)
	mux.HandleFunc("POST /api/sandboxes/{id}/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sandboxes/{id}/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sandboxes/{id}/tools/{name}", s.handleSetToolEnabled)
	mux.HandleFunc("DELETE /api/sessions/{token}", s.handleCloseSession)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)
	mux.HandleFunc("GET /api/replay/{correlationId}", s.handleReplay)

	if s.deps.Tools != nil {
		mux.HandleFunc("GET /api/tools", s.handleListTools)
	}
	if s.deps.Breakers != nil {
		mux.HandleFunc("GET /api/breakers", s.handleBreakers)
	}
	if s.deps.Scheduler != nil {
		mux.HandleFunc("GET /api/scheduler/jobs", s.handleSchedulerJobs)
		mux.HandleFunc("POST /api/scheduler/jobs/{name}/run", s.handleSchedulerRunNow)
	}
	if s.deps.Bus != nil {
		mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
		mux.HandleFunc("GET /sse/events/{correlationId}", s.handleSSECorrelation)
	}
	if s.deps.Push != nil {
		mux.Handle("GET /ws", s.deps.Push)
	}

	return mux
}

// Start binds the listener and begins serving in the background. Bind
// failures are returned synchronously; serve failures surface from Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("ops server already started")
	}

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("ops listen on %s: %w", s.srv.Addr, err)
	}
	s.listener = ln
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		err := s.srv.Serve(ln)
		s.mu.Lock()
		if err != nil && err != http.ErrServerClosed {
			s.err = err
		}
		s.mu.Unlock()
		close(done)
	}(s.done)

	s.deps.Logger.Info("ops server listening", "addr", ln.Addr().String())
	return nil
}

// Addr reports the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the listener. Safe to call
// without a prior Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.listener = nil
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
