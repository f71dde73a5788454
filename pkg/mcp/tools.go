package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/pkg/schema"
)

// handleExecuteTool runs a single tool through the executor's gate sequence.
func (s *DrivelineServer) handleExecuteTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("session is required"), nil
	}
	toolName, err := req.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("tool is required"), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)

	// Capture the MCP session so push messages for this run reach the agent.
	s.captureSession(ctx, token)

	result, execErr := s.executor.ExecuteTool(ctx, tools.ExecuteRequest{
		SessionID:       token,
		ToolName:        toolName,
		Params:          params,
		EstimatedTokens: argInt64(req, "estimated_tokens", 0),
		CorrelationID:   req.GetString("correlation_id", ""),
	})
	if execErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool execution failed: %v", execErr)), nil
	}

	return marshalResult(result)
}

// handleRunWorkflow builds and executes an inline workflow spec.
func (s *DrivelineServer) handleRunWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("session is required"), nil
	}
	specRaw := mcp.ParseStringMap(req, "workflow", nil)
	if specRaw == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	s.captureSession(ctx, token)

	sandbox, session, resolveErr := s.resolver.Resolve(ctx, token)
	if resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session resolve failed: %v", resolveErr)), nil
	}

	// Marshal then unmarshal the spec to get a proper WorkflowSpec.
	specBytes, marshalErr := json.Marshal(specRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", marshalErr)), nil
	}
	var spec schema.WorkflowSpec
	if unmarshalErr := json.Unmarshal(specBytes, &spec); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", unmarshalErr)), nil
	}

	wf, buildErr := s.engine.Build(ctx, sandbox.ID, session.ID, &spec)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow rejected: %v", buildErr)), nil
	}

	out, execErr := s.engine.Execute(ctx, wf.ID)
	if execErr != nil {
		// The workflow ID is in the message so the agent can query per-step
		// statuses with driveline.workflow_status.
		return mcp.NewToolResultError(fmt.Sprintf("workflow %s failed: %v", wf.ID, execErr)), nil
	}

	return marshalResult(out)
}

// handleWorkflowStatus returns the current state of a workflow.
func (s *DrivelineServer) handleWorkflowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, getErr := s.engine.Get(workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}

	return marshalResult(wf)
}

// handleReplay returns the recorded event trail for a correlation ID.
func (s *DrivelineServer) handleReplay(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	correlationID, err := req.RequireString("correlation_id")
	if err != nil {
		return mcp.NewToolResultError("correlation_id is required"), nil
	}

	entries := s.engine.Replay(correlationID)
	if entries == nil {
		entries = []events.ReplayEntry{}
	}

	return marshalResult(map[string]any{
		"correlation_id": correlationID,
		"count":          len(entries),
		"entries":        entries,
	})
}

// handleListTools lists registered tools with the caller's enablement.
func (s *DrivelineServer) handleListTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("session is required"), nil
	}

	s.captureSession(ctx, token)

	sandbox, _, resolveErr := s.resolver.Resolve(ctx, token)
	if resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session resolve failed: %v", resolveErr)), nil
	}

	infos := s.catalog.List()
	listed := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		enabled, enErr := s.catalog.EnabledFor(ctx, sandbox.ID, info.Name)
		if enErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("enablement lookup failed: %v", enErr)), nil
		}
		listed = append(listed, map[string]any{
			"name":        info.Name,
			"description": info.Description,
			"enabled":     enabled,
		})
	}

	return marshalResult(map[string]any{
		"sandbox_id": sandbox.ID,
		"tools":      listed,
		"count":      len(listed),
	})
}

// --- Internal helpers ---

// captureSession maps the driveline session token to the current MCP session
// for push notifications.
func (s *DrivelineServer) captureSession(ctx context.Context, token string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.mcpSessions.Register(token, session.SessionID())
	}
}

// argInt64 extracts an integer argument from the raw arguments map.
func argInt64(req mcp.CallToolRequest, key string, defaultVal int64) int64 {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return defaultVal
	}
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
