package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/pkg/schema"
)

// --- Mock Executor ---

type mockExecutor struct {
	result *tools.ExecuteResult
	err    error

	requests []tools.ExecuteRequest
}

func (m *mockExecutor) ExecuteTool(_ context.Context, req tools.ExecuteRequest) (*tools.ExecuteResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// --- Mock Engine ---

type mockEngine struct {
	built    *schema.Workflow
	buildErr error
	final    *schema.Workflow
	execErr  error

	workflows map[string]*schema.Workflow
	trails    map[string][]events.ReplayEntry

	buildSandboxID string
	buildSessionID string
	buildSpec      *schema.WorkflowSpec
}

func (m *mockEngine) Build(_ context.Context, sandboxID, sessionID string, spec *schema.WorkflowSpec) (*schema.Workflow, error) {
	m.buildSandboxID = sandboxID
	m.buildSessionID = sessionID
	m.buildSpec = spec
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	return m.built, nil
}

func (m *mockEngine) Execute(_ context.Context, workflowID string) (*schema.Workflow, error) {
	if m.execErr != nil {
		return m.final, m.execErr
	}
	return m.final, nil
}

func (m *mockEngine) Get(workflowID string) (*schema.Workflow, error) {
	if wf, ok := m.workflows[workflowID]; ok {
		return wf, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
}

func (m *mockEngine) Replay(correlationID string) []events.ReplayEntry {
	return m.trails[correlationID]
}

// --- Mock Resolver ---

type mockResolver struct {
	sandbox *schema.Sandbox
	session *schema.Session
	err     error
}

func (m *mockResolver) Resolve(_ context.Context, token string) (*schema.Sandbox, *schema.Session, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.sandbox, m.session, nil
}

// --- Mock Catalog ---

type mockCatalog struct {
	infos    []tools.ToolInfo
	disabled map[string]bool
	err      error
}

func (m *mockCatalog) List() []tools.ToolInfo {
	return m.infos
}

func (m *mockCatalog) EnabledFor(_ context.Context, _ string, name string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return !m.disabled[name], nil
}

// --- Fixtures ---

func testResolver() *mockResolver {
	return &mockResolver{
		sandbox: &schema.Sandbox{ID: "sb-1", DealershipID: "dlr-1", Name: "north-lot", IsActive: true},
		session: &schema.Session{ID: "sess-1", SandboxID: "sb-1", IsActive: true},
	}
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- Tests ---

func TestExecuteToolHandler(t *testing.T) {
	exec := &mockExecutor{
		result: &tools.ExecuteResult{
			Data:          json.RawMessage(`{"synced_leads":12}`),
			TokensUsed:    150,
			CostMicros:    4500,
			CorrelationID: "corr-1",
		},
	}

	s := NewDrivelineServer(DrivelineServerDeps{Executor: exec})

	req := buildRequest("driveline.execute_tool", map[string]any{
		"session": "sess-1",
		"tool":    "crm.sync_leads",
		"params":  map[string]any{"source": "website"},
	})

	result, err := s.handleExecuteTool(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	// The executor resolves the sandbox from the session itself.
	require.Len(t, exec.requests, 1)
	assert.Equal(t, "sess-1", exec.requests[0].SessionID)
	assert.Equal(t, "crm.sync_leads", exec.requests[0].ToolName)
	assert.Equal(t, map[string]any{"source": "website"}, exec.requests[0].Params)

	var body map[string]any
	unmarshalResult(t, result, &body)
	assert.Equal(t, float64(150), body["tokens_used"])
	assert.Equal(t, float64(4500), body["cost_micros"])
	assert.Equal(t, "corr-1", body["correlation_id"])
}

func TestExecuteToolHandlerEstimates(t *testing.T) {
	exec := &mockExecutor{result: &tools.ExecuteResult{Data: json.RawMessage(`{}`)}}
	s := NewDrivelineServer(DrivelineServerDeps{Executor: exec})

	// JSON numbers arrive as float64.
	req := buildRequest("driveline.execute_tool", map[string]any{
		"session":          "sess-1",
		"tool":             "crm.sync_leads",
		"estimated_tokens": float64(500),
		"correlation_id":   "corr-custom",
	})

	result, err := s.handleExecuteTool(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, exec.requests, 1)
	assert.Equal(t, int64(500), exec.requests[0].EstimatedTokens)
	assert.Equal(t, "corr-custom", exec.requests[0].CorrelationID)
}

func TestExecuteToolHandlerMissingParams(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{})

	// Missing session.
	req := buildRequest("driveline.execute_tool", map[string]any{"tool": "crm.sync_leads"})
	result, err := s.handleExecuteTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Missing tool.
	req = buildRequest("driveline.execute_tool", map[string]any{"session": "sess-1"})
	result, err = s.handleExecuteTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteToolHandlerExecutionError(t *testing.T) {
	exec := &mockExecutor{
		err: schema.NewError(schema.ErrCodeRateLimitExceeded, "hourly token limit exceeded"),
	}
	s := NewDrivelineServer(DrivelineServerDeps{Executor: exec})

	req := buildRequest("driveline.execute_tool", map[string]any{
		"session": "sess-1",
		"tool":    "crm.sync_leads",
	})

	result, err := s.handleExecuteTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "hourly token limit exceeded")
}

func TestRunWorkflowHandler(t *testing.T) {
	now := time.Now().UTC()
	eng := &mockEngine{
		built: &schema.Workflow{ID: "wf-1", Name: "trade-in-appraisal", Status: schema.WorkflowStatusPending},
		final: &schema.Workflow{
			ID:            "wf-1",
			CorrelationID: "corr-wf",
			Name:          "trade-in-appraisal",
			Pattern:       schema.PatternSequential,
			Status:        schema.WorkflowStatusCompleted,
			Steps: []*schema.WorkflowStep{
				{ID: "appraise", Tool: "inventory.appraise_trade", Status: schema.StepStatusCompleted},
				{ID: "notify", Tool: "crm.notify_customer", Status: schema.StepStatusCompleted},
			},
			CompletedAt: &now,
		},
	}

	s := NewDrivelineServer(DrivelineServerDeps{Engine: eng, Resolver: testResolver()})

	req := buildRequest("driveline.run_workflow", map[string]any{
		"session": "sess-1",
		"workflow": map[string]any{
			"name":    "trade-in-appraisal",
			"pattern": "SEQUENTIAL",
			"steps": []any{
				map[string]any{"id": "appraise", "tool": "inventory.appraise_trade", "params": map[string]any{"vin": "1HGBH41JXMN109186"}},
				map[string]any{"id": "notify", "tool": "crm.notify_customer"},
			},
		},
	})

	result, err := s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	// The spec was decoded and built under the resolved sandbox and session.
	assert.Equal(t, "sb-1", eng.buildSandboxID)
	assert.Equal(t, "sess-1", eng.buildSessionID)
	require.NotNil(t, eng.buildSpec)
	assert.Equal(t, "trade-in-appraisal", eng.buildSpec.Name)
	assert.Equal(t, schema.PatternSequential, eng.buildSpec.Pattern)
	require.Len(t, eng.buildSpec.Steps, 2)
	assert.Equal(t, "inventory.appraise_trade", eng.buildSpec.Steps[0].Tool)
	assert.Equal(t, map[string]any{"vin": "1HGBH41JXMN109186"}, eng.buildSpec.Steps[0].Params)

	var wf schema.Workflow
	unmarshalResult(t, result, &wf)
	assert.Equal(t, "wf-1", wf.ID)
	assert.Equal(t, schema.WorkflowStatusCompleted, wf.Status)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, schema.StepStatusCompleted, wf.Steps[1].Status)
}

func TestRunWorkflowHandlerMissingParams(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{})

	// Missing session.
	req := buildRequest("driveline.run_workflow", map[string]any{
		"workflow": map[string]any{"name": "x"},
	})
	result, err := s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Missing workflow.
	req = buildRequest("driveline.run_workflow", map[string]any{"session": "sess-1"})
	result, err = s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "workflow is required")
}

func TestRunWorkflowHandlerUnknownSession(t *testing.T) {
	resolver := &mockResolver{err: schema.NewError(schema.ErrCodeSessionNotFound, "session not found")}
	s := NewDrivelineServer(DrivelineServerDeps{Engine: &mockEngine{}, Resolver: resolver})

	req := buildRequest("driveline.run_workflow", map[string]any{
		"session":  "ghost",
		"workflow": map[string]any{"name": "x", "pattern": "SEQUENTIAL"},
	})

	result, err := s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "session not found")
}

func TestRunWorkflowHandlerRejected(t *testing.T) {
	eng := &mockEngine{
		buildErr: schema.NewError(schema.ErrCodeCycleDetected, "dependency cycle involving step \"a\""),
	}
	s := NewDrivelineServer(DrivelineServerDeps{Engine: eng, Resolver: testResolver()})

	req := buildRequest("driveline.run_workflow", map[string]any{
		"session": "sess-1",
		"workflow": map[string]any{
			"name":    "cyclic",
			"pattern": "PARALLEL",
			"steps": []any{
				map[string]any{"id": "a", "tool": "crm.sync_leads", "depends_on": []any{"b"}},
				map[string]any{"id": "b", "tool": "crm.sync_leads", "depends_on": []any{"a"}},
			},
		},
	})

	result, err := s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "workflow rejected")
}

func TestRunWorkflowHandlerExecutionFailure(t *testing.T) {
	eng := &mockEngine{
		built:   &schema.Workflow{ID: "wf-9", Status: schema.WorkflowStatusPending},
		execErr: schema.NewError(schema.ErrCodeWorkflowExecution, "step \"notify\" failed"),
	}
	s := NewDrivelineServer(DrivelineServerDeps{Engine: eng, Resolver: testResolver()})

	req := buildRequest("driveline.run_workflow", map[string]any{
		"session": "sess-1",
		"workflow": map[string]any{
			"name":    "doomed",
			"pattern": "SEQUENTIAL",
			"steps":   []any{map[string]any{"id": "notify", "tool": "crm.notify_customer"}},
		},
	})

	result, err := s.handleRunWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// The workflow ID is in the message so the caller can fetch step states.
	text := extractText(t, result)
	assert.Contains(t, text, "wf-9")
	assert.Contains(t, text, "step \"notify\" failed")
}

func TestWorkflowStatusHandler(t *testing.T) {
	eng := &mockEngine{
		workflows: map[string]*schema.Workflow{
			"wf-123": {
				ID:     "wf-123",
				Name:   "inventory-refresh",
				Status: schema.WorkflowStatusRunning,
				Steps: []*schema.WorkflowStep{
					{ID: "pull", Tool: "inventory.search", Status: schema.StepStatusRunning},
				},
			},
		},
	}
	s := NewDrivelineServer(DrivelineServerDeps{Engine: eng})

	req := buildRequest("driveline.workflow_status", map[string]any{"workflow_id": "wf-123"})
	result, err := s.handleWorkflowStatus(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "wf-123")
	assert.Contains(t, text, "RUNNING")
}

func TestWorkflowStatusHandlerMissingID(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{})

	req := buildRequest("driveline.workflow_status", map[string]any{})
	result, err := s.handleWorkflowStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkflowStatusHandlerNotFound(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{Engine: &mockEngine{}})

	req := buildRequest("driveline.workflow_status", map[string]any{"workflow_id": "ghost"})
	result, err := s.handleWorkflowStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")
}

func TestReplayHandler(t *testing.T) {
	eng := &mockEngine{
		trails: map[string][]events.ReplayEntry{
			"corr-1": {
				{CorrelationID: "corr-1", Sequence: 1, Type: schema.EventSequenceStarted},
				{CorrelationID: "corr-1", Sequence: 2, Type: schema.EventToolExecutionStarted, Payload: map[string]any{"tool_name": "crm.sync_leads"}},
			},
		},
	}
	s := NewDrivelineServer(DrivelineServerDeps{Engine: eng})

	req := buildRequest("driveline.replay", map[string]any{"correlation_id": "corr-1"})
	result, err := s.handleReplay(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var body struct {
		CorrelationID string               `json:"correlation_id"`
		Count         int                  `json:"count"`
		Entries       []events.ReplayEntry `json:"entries"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, "corr-1", body.CorrelationID)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, int64(1), body.Entries[0].Sequence)
	assert.Equal(t, schema.EventToolExecutionStarted, body.Entries[1].Type)
}

func TestReplayHandlerEmptyTrail(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{Engine: &mockEngine{}})

	req := buildRequest("driveline.replay", map[string]any{"correlation_id": "never-seen"})
	result, err := s.handleReplay(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var body struct {
		Count   int                  `json:"count"`
		Entries []events.ReplayEntry `json:"entries"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Entries)
}

func TestReplayHandlerMissingID(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{})

	req := buildRequest("driveline.replay", map[string]any{})
	result, err := s.handleReplay(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListToolsHandler(t *testing.T) {
	catalog := &mockCatalog{
		infos: []tools.ToolInfo{
			{Name: "crm.sync_leads", Description: "Sync leads from a source"},
			{Name: "ads.create_campaign", Description: "Queue an ad campaign"},
		},
		disabled: map[string]bool{"ads.create_campaign": true},
	}
	s := NewDrivelineServer(DrivelineServerDeps{Resolver: testResolver(), Catalog: catalog})

	req := buildRequest("driveline.list_tools", map[string]any{"session": "sess-1"})
	result, err := s.handleListTools(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var body struct {
		SandboxID string `json:"sandbox_id"`
		Count     int    `json:"count"`
		Tools     []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"tools"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, "sb-1", body.SandboxID)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Tools, 2)

	byName := map[string]bool{}
	for _, tool := range body.Tools {
		byName[tool.Name] = tool.Enabled
	}
	assert.True(t, byName["crm.sync_leads"])
	assert.False(t, byName["ads.create_campaign"])
}

func TestListToolsHandlerUnknownSession(t *testing.T) {
	resolver := &mockResolver{err: schema.NewError(schema.ErrCodeSessionNotFound, "session not found")}
	s := NewDrivelineServer(DrivelineServerDeps{Resolver: resolver, Catalog: &mockCatalog{}})

	req := buildRequest("driveline.list_tools", map[string]any{"session": "ghost"})
	result, err := s.handleListTools(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListToolsHandlerMissingSession(t *testing.T) {
	s := NewDrivelineServer(DrivelineServerDeps{})

	req := buildRequest("driveline.list_tools", map[string]any{})
	result, err := s.handleListTools(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestArgInt64(t *testing.T) {
	req := buildRequest("x", map[string]any{
		"float":  float64(42),
		"int":    7,
		"string": "19",
		"bad":    "not-a-number",
	})

	assert.Equal(t, int64(42), argInt64(req, "float", 0))
	assert.Equal(t, int64(7), argInt64(req, "int", 0))
	assert.Equal(t, int64(19), argInt64(req, "string", 0))
	assert.Equal(t, int64(5), argInt64(req, "bad", 5))
	assert.Equal(t, int64(5), argInt64(req, "absent", 5))

	// Non-map arguments fall back to the default.
	raw := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "x", Arguments: "scalar"}}
	assert.Equal(t, int64(3), argInt64(raw, "anything", 3))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
