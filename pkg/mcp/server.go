// Package mcp exposes the engine to agents over the Model Context Protocol.
// Five tools cover the agent surface: execute a single tool, run an inline
// workflow, query a workflow's status, fetch a correlation's replay trail,
// and list the registered tools with the caller's enablement.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/pkg/schema"
)

// ToolExecutor runs one tool call through the full gate sequence. Satisfied
// by *tools.Executor.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req tools.ExecuteRequest) (*tools.ExecuteResult, error)
}

// WorkflowEngine builds, runs and inspects workflows. Satisfied by
// *engine.Engine.
type WorkflowEngine interface {
	Build(ctx context.Context, sandboxID, sessionID string, spec *schema.WorkflowSpec) (*schema.Workflow, error)
	Execute(ctx context.Context, workflowID string) (*schema.Workflow, error)
	Get(workflowID string) (*schema.Workflow, error)
	Replay(correlationID string) []events.ReplayEntry
}

// SessionResolver maps a session token to its sandbox. Satisfied by
// *tenant.Manager.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*schema.Sandbox, *schema.Session, error)
}

// ToolCatalog lists registered tools and their per-sandbox enablement.
// Satisfied by *tools.Registry.
type ToolCatalog interface {
	List() []tools.ToolInfo
	EnabledFor(ctx context.Context, sandboxID, name string) (bool, error)
}

// DrivelineServerDeps holds the dependencies for creating a DrivelineServer.
type DrivelineServerDeps struct {
	Executor ToolExecutor
	Engine   WorkflowEngine
	Resolver SessionResolver
	Catalog  ToolCatalog
	Sessions *SessionRegistry
	Logger   *slog.Logger

	// Version is advertised in the MCP handshake. Empty means "dev".
	Version string
}

// DrivelineServer wraps an MCP server with the engine's tool handlers.
type DrivelineServer struct {
	executor    ToolExecutor
	engine      WorkflowEngine
	resolver    SessionResolver
	catalog     ToolCatalog
	mcpSessions *SessionRegistry
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewDrivelineServer creates a DrivelineServer with all 5 tools registered.
func NewDrivelineServer(deps DrivelineServerDeps) *DrivelineServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &DrivelineServer{
		executor:    deps.Executor,
		engine:      deps.Engine,
		resolver:    deps.Resolver,
		catalog:     deps.Catalog,
		mcpSessions: sessions,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"driveline",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Driveline orchestrates dealership operations inside sandboxed sessions. Use driveline.execute_tool to run a single tool, driveline.run_workflow to execute a multi-step workflow, driveline.workflow_status to check a run, driveline.replay to inspect an event trail, and driveline.list_tools to see which tools your session may call."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DrivelineServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DrivelineServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *DrivelineServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeToolTool(), Handler: s.handleExecuteTool},
		{Tool: runWorkflowTool(), Handler: s.handleRunWorkflow},
		{Tool: workflowStatusTool(), Handler: s.handleWorkflowStatus},
		{Tool: replayTool(), Handler: s.handleReplay},
		{Tool: listToolsTool(), Handler: s.handleListTools},
	}
}

// --- Tool definitions ---

func executeToolTool() mcp.Tool {
	return mcp.NewTool("driveline.execute_tool",
		mcp.WithDescription("Execute a single registered tool inside a sandbox session"),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session token issued for the sandbox")),
		mcp.WithString("tool", mcp.Required(), mcp.Description("Registered tool name, e.g. crm.sync_leads")),
		mcp.WithObject("params", mcp.Description("Tool parameters")),
		mcp.WithNumber("estimated_tokens", mcp.Description("Caller's token estimate; estimated from params when omitted")),
		mcp.WithString("correlation_id", mcp.Description("Correlation ID to join an existing trace")),
	)
}

func runWorkflowTool() mcp.Tool {
	return mcp.NewTool("driveline.run_workflow",
		mcp.WithDescription("Build and execute an inline workflow, returning every step's terminal status"),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session token issued for the sandbox")),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow spec: {name, pattern (SEQUENTIAL|PARALLEL|CONDITIONAL), rollback_on_failure, steps: [{id, name, tool, params, depends_on, condition, checkpoint, compensation}]}")),
	)
}

func workflowStatusTool() mcp.Tool {
	return mcp.NewTool("driveline.workflow_status",
		mcp.WithDescription("Get a workflow's current status with every step's state"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID returned by driveline.run_workflow")),
	)
}

func replayTool() mcp.Tool {
	return mcp.NewTool("driveline.replay",
		mcp.WithDescription("Fetch the recorded event trail for a correlation ID"),
		mcp.WithString("correlation_id", mcp.Required(), mcp.Description("Correlation ID from a tool or workflow run")),
	)
}

func listToolsTool() mcp.Tool {
	return mcp.NewTool("driveline.list_tools",
		mcp.WithDescription("List registered tools with enablement for the caller's sandbox"),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session token issued for the sandbox")),
	)
}
