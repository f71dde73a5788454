package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lotwise/driveline/internal/budget"
	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/metrics"
	"github.com/lotwise/driveline/internal/push"
	"github.com/lotwise/driveline/pkg/schema"
)

// SessionResolver validates a session and loads its sandbox. Implemented by
// the tenant manager.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*schema.Sandbox, *schema.Session, error)
}

// Budget authorizes and records token spend. Implemented by the budget tracker.
type Budget interface {
	Authorize(ctx context.Context, sandbox *schema.Sandbox, estimatedTokens, estimatedCostMicros int64) error
	Record(ctx context.Context, sandboxID, sessionID string, tokens, costMicros int64, operationType string) error
}

// ParamValidator checks tool params against a tool-declared JSON Schema.
type ParamValidator interface {
	ValidateParams(params map[string]any, paramSchema []byte) error
}

// ExecuteRequest is one tool invocation on behalf of a session.
type ExecuteRequest struct {
	SandboxID           string         `json:"sandbox_id,omitempty"`
	SessionID           string         `json:"session_id"`
	ToolName            string         `json:"tool_name"`
	Params              map[string]any `json:"params,omitempty"`
	EstimatedTokens     int64          `json:"estimated_tokens,omitempty"`
	EstimatedCostMicros int64          `json:"estimated_cost_micros,omitempty"`
	CorrelationID       string         `json:"correlation_id,omitempty"`
}

// ExecuteResult is the outcome of a successful tool invocation.
type ExecuteResult struct {
	Data          json.RawMessage `json:"data,omitempty"`
	TokensUsed    int64           `json:"tokens_used"`
	CostMicros    int64           `json:"cost_micros"`
	CorrelationID string          `json:"correlation_id"`
	Duration      time.Duration   `json:"-"`
}

// Executor drives every tool invocation through the same gate sequence:
// resolve the session, estimate and authorize spend, dispatch the handler,
// record usage, and surface lifecycle events on the bus, the replay log, and
// the session's live transport. A budget denial fails before dispatch; the
// handler is never invoked.
type Executor struct {
	registry  *Registry
	sessions  SessionResolver
	budget    Budget
	estimator *budget.Estimator
	params    ParamValidator
	bus       events.Publisher
	replay    *events.ReplayLog
	pusher    push.Pusher
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewExecutor wires an Executor. params and metrics may be nil; everything
// else is required.
func NewExecutor(
	registry *Registry,
	sessions SessionResolver,
	bdg Budget,
	estimator *budget.Estimator,
	params ParamValidator,
	bus events.Publisher,
	replay *events.ReplayLog,
	pusher push.Pusher,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		sessions:  sessions,
		budget:    bdg,
		estimator: estimator,
		params:    params,
		bus:       bus,
		replay:    replay,
		pusher:    pusher,
		metrics:   collector,
		logger:    logger,
	}
}

// ExecuteTool runs one tool invocation end to end.
func (x *Executor) ExecuteTool(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	start := time.Now()

	if req.ToolName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tool name is required")
	}
	if req.SessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "session id is required")
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// Resolve the session and its sandbox. An explicit sandbox ID must agree
	// with the session's.
	sandbox, session, err := x.sessions.Resolve(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.SandboxID != "" && req.SandboxID != sandbox.ID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"session %q does not belong to sandbox %q", req.SessionID, req.SandboxID)
	}

	// Estimate spend when the caller did not.
	estTokens := req.EstimatedTokens
	if estTokens <= 0 {
		estTokens = x.estimator.EstimateTokens(req.ToolName, req.Params)
	}
	estCost := req.EstimatedCostMicros
	if estCost <= 0 {
		estCost = x.estimator.EstimateCostMicros(estTokens)
	}

	// Authorize before anything runs. On denial the tool is never invoked;
	// the denial is published and replayable but nothing reaches the session
	// transport, since no execution started.
	if err := x.budget.Authorize(ctx, sandbox, estTokens, estCost); err != nil {
		payload := denialPayload(req.ToolName, err)
		x.publish(ctx, events.Event{
			Type:          schema.EventRateLimitExceeded,
			CorrelationID: correlationID,
			SandboxID:     sandbox.ID,
			SessionID:     session.ID,
			Payload:       payload,
		})
		x.replay.Append(correlationID, schema.EventRateLimitExceeded, payload)
		x.recordExecution(req.ToolName, "denied", time.Since(start))
		return nil, err
	}

	startPayload := map[string]any{
		"tool":             req.ToolName,
		"estimated_tokens": estTokens,
	}
	x.publish(ctx, events.Event{
		Type:          schema.EventToolExecutionStarted,
		CorrelationID: correlationID,
		SandboxID:     sandbox.ID,
		SessionID:     session.ID,
		Payload:       startPayload,
	})
	x.replay.Append(correlationID, schema.EventToolExecutionStarted, startPayload)
	x.pusher.Push(session.ID, push.Message{
		Type:          schema.PushToolStart,
		CorrelationID: correlationID,
		Payload:       startPayload,
	})

	tool, err := x.registry.Get(req.ToolName)
	if err != nil {
		return nil, x.fail(ctx, req.ToolName, correlationID, sandbox.ID, session.ID, start, err)
	}

	enabled, err := x.registry.EnabledFor(ctx, sandbox.ID, req.ToolName)
	if err != nil {
		return nil, x.fail(ctx, req.ToolName, correlationID, sandbox.ID, session.ID, start, err)
	}
	if !enabled {
		err := schema.NewErrorf(schema.ErrCodeToolDisabled,
			"tool %q is disabled for sandbox %q", req.ToolName, sandbox.ID)
		return nil, x.fail(ctx, req.ToolName, correlationID, sandbox.ID, session.ID, start, err)
	}

	if ps := tool.Schema().ParamSchema; len(ps) > 0 && x.params != nil {
		if err := x.params.ValidateParams(req.Params, ps); err != nil {
			return nil, x.fail(ctx, req.ToolName, correlationID, sandbox.ID, session.ID, start, err)
		}
	}

	input := ToolInput{
		Params: req.Params,
		Context: map[string]any{
			"sandbox_id":     sandbox.ID,
			"session_id":     session.ID,
			"correlation_id": correlationID,
		},
		OnProgress: func(update map[string]any) {
			x.pusher.Push(session.ID, push.Message{
				Type:          schema.PushToolStream,
				CorrelationID: correlationID,
				Payload:       update,
			})
		},
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		return nil, x.fail(ctx, req.ToolName, correlationID, sandbox.ID, session.ID, start, err)
	}
	if out == nil {
		out = &ToolOutput{}
	}

	// Tool-reported accounting wins; the estimate stands in otherwise.
	tokensUsed := out.TokensUsed
	if tokensUsed <= 0 {
		tokensUsed = estTokens
	}
	costMicros := out.CostMicros
	if costMicros <= 0 {
		costMicros = estCost
	}
	if err := x.budget.Record(ctx, sandbox.ID, session.ID, tokensUsed, costMicros, req.ToolName); err != nil {
		x.logger.WarnContext(ctx, "usage record failed after tool execution",
			"tool", req.ToolName, "sandbox_id", sandbox.ID, "error", err)
	}

	duration := time.Since(start)
	completePayload := map[string]any{
		"tool":        req.ToolName,
		"tokens_used": tokensUsed,
		"cost_micros": costMicros,
		"duration_ms": duration.Milliseconds(),
	}
	x.publish(ctx, events.Event{
		Type:          schema.EventToolExecutionCompleted,
		CorrelationID: correlationID,
		SandboxID:     sandbox.ID,
		SessionID:     session.ID,
		Payload:       completePayload,
	})
	x.replay.Append(correlationID, schema.EventToolExecutionCompleted, completePayload)

	pushPayload := map[string]any{
		"tool":        req.ToolName,
		"tokens_used": tokensUsed,
	}
	if len(out.Data) > 0 {
		pushPayload["result"] = json.RawMessage(out.Data)
	}
	x.pusher.Push(session.ID, push.Message{
		Type:          schema.PushToolComplete,
		CorrelationID: correlationID,
		Payload:       pushPayload,
	})
	x.recordExecution(req.ToolName, "completed", duration)

	return &ExecuteResult{
		Data:          out.Data,
		TokensUsed:    tokensUsed,
		CostMicros:    costMicros,
		CorrelationID: correlationID,
		Duration:      duration,
	}, nil
}

// fail publishes the failure on every surface and returns the cause unchanged.
func (x *Executor) fail(ctx context.Context, toolName, correlationID, sandboxID, sessionID string, start time.Time, cause error) error {
	payload := map[string]any{
		"tool":  toolName,
		"error": cause.Error(),
	}
	var derr *schema.DrivelineError
	if errors.As(cause, &derr) {
		payload["code"] = derr.Code
	}

	x.publish(ctx, events.Event{
		Type:          schema.EventToolExecutionFailed,
		CorrelationID: correlationID,
		SandboxID:     sandboxID,
		SessionID:     sessionID,
		Payload:       payload,
	})
	x.replay.Append(correlationID, schema.EventToolExecutionFailed, payload)
	x.pusher.Push(sessionID, push.Message{
		Type:          schema.PushToolError,
		CorrelationID: correlationID,
		Payload:       payload,
	})
	x.recordExecution(toolName, "failed", time.Since(start))

	x.logger.ErrorContext(ctx, "tool execution failed",
		"tool", toolName, "sandbox_id", sandboxID, "error", cause)
	return cause
}

// publish sends a bus event; delivery failures are logged, never propagated.
func (x *Executor) publish(ctx context.Context, event events.Event) {
	if err := x.bus.Publish(ctx, event); err != nil {
		x.logger.WarnContext(ctx, "event publish failed",
			"event_type", event.Type, "error", err)
	}
}

func (x *Executor) recordExecution(tool, status string, duration time.Duration) {
	if x.metrics != nil {
		x.metrics.RecordToolExecution(tool, status, duration)
	}
}

// denialPayload carries the denial's window details into the published event.
func denialPayload(toolName string, err error) map[string]any {
	payload := map[string]any{"tool": toolName}
	var derr *schema.DrivelineError
	if errors.As(err, &derr) {
		if window, limit, usage, ok := schema.RateLimitDetails(derr); ok {
			payload["window"] = window
			payload["limit"] = limit
			payload["usage"] = usage
		}
	}
	return payload
}
