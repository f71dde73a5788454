package ops

import (
	"io"
	"net/http"
	"sort"

	"github.com/lotwise/driveline/internal/diagram"
	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/pkg/schema"
)

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	activeOnly := queryBool(r, "active", false)

	sandboxes, err := s.deps.Tenants.ListSandboxes(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sandboxes": sandboxes,
		"count":     len(sandboxes),
	})
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DealershipID         string `json:"dealership_id"`
		Name                 string `json:"name"`
		HourlyTokenLimit     int64  `json:"hourly_token_limit"`
		DailyTokenLimit      int64  `json:"daily_token_limit"`
		DailyCostLimitMicros int64  `json:"daily_cost_limit_micros"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	limits := schema.SandboxLimits{
		HourlyTokenLimit:     body.HourlyTokenLimit,
		DailyTokenLimit:      body.DailyTokenLimit,
		DailyCostLimitMicros: body.DailyCostLimitMicros,
	}
	if limits.HourlyTokenLimit == 0 {
		limits.HourlyTokenLimit = s.deps.DefaultLimits.HourlyTokenLimit
	}
	if limits.DailyTokenLimit == 0 {
		limits.DailyTokenLimit = s.deps.DefaultLimits.DailyTokenLimit
	}
	if limits.DailyCostLimitMicros == 0 {
		limits.DailyCostLimitMicros = s.deps.DefaultLimits.DailyCostLimitMicros
	}

	sandbox, err := s.deps.Tenants.CreateSandbox(r.Context(), body.DealershipID, body.Name, limits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sandbox)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	sandbox, err := s.deps.Tenants.GetSandbox(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sandbox)
}

func (s *Server) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits schema.SandboxLimits
	if err := decodeBody(r, &limits); err != nil {
		writeError(w, err)
		return
	}

	sandbox, err := s.deps.Tenants.UpdateLimits(r.Context(), r.PathValue("id"), limits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sandbox)
}

func (s *Server) handleDeactivateSandbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Tenants.DeactivateSandbox(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"is_active": false,
	})
}

func (s *Server) handleSandboxUsage(w http.ResponseWriter, r *http.Request) {
	sandbox, err := s.deps.Tenants.GetSandbox(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	usage, err := s.deps.Budget.Usage(r.Context(), sandbox)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sandbox_id": sandbox.ID,
		"usage":      usage,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Tenants.CreateSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Tenants.ListSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := s.deps.Tenants.CloseSession(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        token,
		"is_active": false,
	})
}

func (s *Server) handleSetToolEnabled(w http.ResponseWriter, r *http.Request) {
	sandboxID := r.PathValue("id")
	toolName := r.PathValue("name")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "enabled is required"))
		return
	}

	if s.deps.Tools != nil && !s.deps.Tools.Has(toolName) {
		writeError(w, schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q is not registered", toolName))
		return
	}

	if err := s.deps.Tenants.SetToolEnabled(r.Context(), sandboxID, toolName, *body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sandbox_id": sandboxID,
		"tool":       toolName,
		"enabled":    *body.Enabled,
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := s.deps.Engine.List()
	if limit := queryInt(r, "limit", 0); limit > 0 && len(workflows) > limit {
		workflows = workflows[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.deps.Engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

// handleWorkflowDiagram renders a workflow as a Mermaid flowchart with each
// step styled by its current status. Plain text, pasteable into anything that
// speaks Mermaid.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.deps.Engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, diagram.RenderMermaid(diagram.Build(workflow)))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")
	entries := s.deps.Engine.Replay(correlationID)
	if entries == nil {
		entries = []events.ReplayEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"count":          len(entries),
		"entries":        entries,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Tools.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": list,
		"count": len(list),
	})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	services := s.deps.Breakers.Services()
	sort.Strings(services)

	stats := make([]map[string]any, 0, len(services))
	for _, service := range services {
		stats = append(stats, s.deps.Breakers.Stats(service))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers": stats,
		"count":    len(stats),
	})
}

func (s *Server) handleSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Scheduler.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleSchedulerRunNow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Scheduler.RunNow(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}

	// RunNow is synchronous; report the outcome it just recorded.
	status := ""
	for _, job := range s.deps.Scheduler.Jobs() {
		if job.Name == name {
			status = job.LastRunStatus
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":    name,
		"status": status,
	})
}
