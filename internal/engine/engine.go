// Package engine builds and drives multi-step workflows. A workflow is
// validated and compiled once, admitted into a bounded in-memory registry,
// and executed by the pattern it declares: SEQUENTIAL, PARALLEL with
// dependency barriers, or CONDITIONAL with compiled step conditions. Every
// step runs through the tool executor, so budget authorization, circuit
// breaking, and usage recording apply to workflow steps exactly as they do
// to direct tool calls.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/internal/metrics"
	"github.com/lotwise/driveline/internal/push"
	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/internal/validation"
	"github.com/lotwise/driveline/pkg/schema"
)

// ToolRunner dispatches one tool invocation. Satisfied by *tools.Executor.
type ToolRunner interface {
	ExecuteTool(ctx context.Context, req tools.ExecuteRequest) (*tools.ExecuteResult, error)
}

// Config bounds the engine's registry and its parallel step concurrency.
type Config struct {
	// MaxWorkflows caps the number of workflows resident in the registry.
	MaxWorkflows int
	// MaxAge is how long a terminal workflow stays resident before the next
	// admission prunes it.
	MaxAge time.Duration
	// Parallelism caps concurrently running steps within one PARALLEL
	// workflow.
	Parallelism int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkflows: 512,
		MaxAge:       time.Hour,
		Parallelism:  4,
	}
}

// Engine owns the workflow registry and drives executions.
//
// Registry eviction policy: on every admission, terminal workflows older
// than MaxAge are pruned; then, while the registry is at MaxWorkflows, the
// oldest-created terminal workflow is evicted. A workflow that has not
// reached a terminal state is never evicted; admission fails with CONFLICT
// when the cap cannot be met.
type Engine struct {
	runner     ToolRunner
	validator  *validation.WorkflowValidator
	conditions *expressions.Compiler
	interp     *expressions.Interpolator
	bus        events.Publisher
	replay     *events.ReplayLog
	pusher     push.Pusher
	metrics    *metrics.Collector
	logger     *slog.Logger
	cfg        Config

	mu    sync.Mutex
	runs  map[string]*workflowRun
	order []string // creation order, oldest first
}

// NewEngine wires an Engine. interp and collector may be nil; everything
// else is required. A nil interp disables secret references but still
// resolves step and workflow placeholders.
func NewEngine(
	runner ToolRunner,
	validator *validation.WorkflowValidator,
	conditions *expressions.Compiler,
	interp *expressions.Interpolator,
	bus events.Publisher,
	replay *events.ReplayLog,
	pusher push.Pusher,
	collector *metrics.Collector,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if cfg.MaxWorkflows <= 0 {
		cfg.MaxWorkflows = DefaultConfig().MaxWorkflows
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultConfig().Parallelism
	}
	if interp == nil {
		interp = expressions.NewInterpolator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:     runner,
		validator:  validator,
		conditions: conditions,
		interp:     interp,
		bus:        bus,
		replay:     replay,
		pusher:     pusher,
		metrics:    collector,
		logger:     logger,
		cfg:        cfg,
		runs:       make(map[string]*workflowRun),
	}
}

// Build validates a workflow spec, compiles its conditions, and admits a
// PENDING workflow into the registry on behalf of a session. The returned
// workflow is a clone; the engine keeps the authoritative copy.
func (e *Engine) Build(ctx context.Context, sandboxID, sessionID string, spec *schema.WorkflowSpec) (*schema.Workflow, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow spec is nil")
	}
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "session id is required")
	}
	if err := e.validator.ValidateSpec(spec); err != nil {
		return nil, err
	}

	// The validator already checked condition syntax; compiling here reuses
	// the compiler's cache and pins the programs to this run.
	conditions := make(map[string]expressions.Condition)
	for _, s := range spec.Steps {
		if s.Condition == "" {
			continue
		}
		cond, err := e.conditions.Compile(s.Condition)
		if err != nil {
			return nil, err
		}
		conditions[s.ID] = cond
	}

	wf := &schema.Workflow{
		ID:                uuid.NewString(),
		CorrelationID:     uuid.NewString(),
		Name:              spec.Name,
		Pattern:           spec.Pattern,
		RollbackOnFailure: spec.RollbackOnFailure,
		Status:            schema.WorkflowStatusPending,
		CreatedAt:         time.Now().UTC(),
		Steps:             make([]*schema.WorkflowStep, len(spec.Steps)),
	}
	for i, s := range spec.Steps {
		wf.Steps[i] = &schema.WorkflowStep{
			ID:           s.ID,
			Name:         s.Name,
			Tool:         s.Tool,
			Params:       cloneParams(s.Params),
			DependsOn:    append([]string(nil), s.DependsOn...),
			Condition:    s.Condition,
			Checkpoint:   s.Checkpoint,
			Compensation: cloneCompensation(s.Compensation),
			Status:       schema.StepStatusPending,
		}
	}

	run := newWorkflowRun(wf, sandboxID, sessionID, conditions)
	if err := e.admit(run); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "workflow built",
		slog.String("workflow_id", wf.ID),
		slog.String("name", wf.Name),
		slog.String("pattern", string(wf.Pattern)),
		slog.Int("steps", len(wf.Steps)))
	return run.snapshot(), nil
}

// Execute drives a built workflow to a terminal state. It returns the
// terminal snapshot; err is non-nil when the run failed, wrapped as a
// WORKFLOW_EXECUTION_ERROR naming the failing step. A workflow executes at
// most once.
func (e *Engine) Execute(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	run, err := e.lookup(workflowID)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	if run.wf.Status != schema.WorkflowStatusPending {
		status := run.wf.Status
		run.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %q is %s, not PENDING", workflowID, status)
	}
	if err := transitionWorkflow(run.wf, schema.WorkflowStatusRunning); err != nil {
		run.mu.Unlock()
		return nil, err
	}
	started := time.Now().UTC()
	run.wf.StartedAt = &started
	pattern := run.wf.Pattern
	run.mu.Unlock()

	e.emit(ctx, run, schema.EventSequenceStarted, schema.PushWorkflowStart, map[string]any{
		"workflow_id": run.wf.ID,
		"name":        run.wf.Name,
		"pattern":     string(pattern),
		"steps":       len(run.wf.Steps),
	})
	e.logger.InfoContext(ctx, "workflow started",
		slog.String("workflow_id", run.wf.ID),
		slog.String("pattern", string(pattern)))

	var execErr error
	switch pattern {
	case schema.PatternSequential:
		execErr = e.runSequential(ctx, run)
	case schema.PatternParallel:
		execErr = e.runParallel(ctx, run)
	case schema.PatternConditional:
		execErr = e.runConditional(ctx, run)
	default:
		execErr = schema.NewErrorf(schema.ErrCodeValidation, "unknown workflow pattern %q", pattern)
	}

	return e.finish(ctx, run, started, execErr)
}

// finish settles the terminal state, runs rollback when configured, and
// emits the terminal events.
func (e *Engine) finish(ctx context.Context, run *workflowRun, started time.Time, execErr error) (*schema.Workflow, error) {
	now := time.Now().UTC()
	duration := now.Sub(started)

	if execErr == nil {
		run.mu.Lock()
		_ = transitionWorkflow(run.wf, schema.WorkflowStatusCompleted)
		run.wf.CompletedAt = &now
		run.mu.Unlock()

		e.emit(ctx, run, schema.EventSequenceCompleted, schema.PushWorkflowComplete, map[string]any{
			"workflow_id": run.wf.ID,
			"name":        run.wf.Name,
			"status":      string(schema.WorkflowStatusCompleted),
			"duration_ms": duration.Milliseconds(),
		})
		e.logger.InfoContext(ctx, "workflow completed",
			slog.String("workflow_id", run.wf.ID),
			slog.Duration("duration", duration))
		e.recordWorkflow(run.wf.Pattern, schema.WorkflowStatusCompleted, duration)
		return run.snapshot(), nil
	}

	run.mu.Lock()
	_ = transitionWorkflow(run.wf, schema.WorkflowStatusFailed)
	run.wf.Error = execErr.Error()
	run.wf.CompletedAt = &now
	rollback := run.wf.RollbackOnFailure && len(run.completed) > 0
	run.mu.Unlock()

	terminal := schema.WorkflowStatusFailed
	if rollback {
		e.runRollback(ctx, run)
		run.mu.Lock()
		_ = transitionWorkflow(run.wf, schema.WorkflowStatusRolledBack)
		rolledAt := time.Now().UTC()
		run.wf.CompletedAt = &rolledAt
		run.mu.Unlock()
		terminal = schema.WorkflowStatusRolledBack
	}

	e.emit(ctx, run, schema.EventSequenceFailed, schema.PushWorkflowError, map[string]any{
		"workflow_id": run.wf.ID,
		"name":        run.wf.Name,
		"status":      string(terminal),
		"error":       execErr.Error(),
		"duration_ms": duration.Milliseconds(),
	})
	e.logger.ErrorContext(ctx, "workflow failed",
		slog.String("workflow_id", run.wf.ID),
		slog.String("status", string(terminal)),
		slog.Any("error", execErr))
	e.recordWorkflow(run.wf.Pattern, terminal, duration)
	return run.snapshot(), execErr
}

// Get returns a snapshot of one workflow.
func (e *Engine) Get(workflowID string) (*schema.Workflow, error) {
	run, err := e.lookup(workflowID)
	if err != nil {
		return nil, err
	}
	return run.snapshot(), nil
}

// List returns snapshots of every resident workflow, newest first.
func (e *Engine) List() []*schema.Workflow {
	e.mu.Lock()
	runs := make([]*workflowRun, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	out := make([]*schema.Workflow, len(runs))
	for i, run := range runs {
		out[i] = run.snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Replay returns the recorded event trail for one correlation ID.
func (e *Engine) Replay(correlationID string) []events.ReplayEntry {
	return e.replay.Entries(correlationID)
}

func (e *Engine) lookup(workflowID string) (*workflowRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[workflowID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID).
			WithDetails(map[string]any{"workflow_id": workflowID})
	}
	return run, nil
}

// admit inserts a run, applying the eviction policy documented on Engine.
func (e *Engine) admit(run *workflowRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.pruneLocked(now)

	for len(e.runs) >= e.cfg.MaxWorkflows {
		if !e.evictOldestTerminalLocked() {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"workflow registry is full (%d workflows, none terminal)", len(e.runs))
		}
	}

	e.runs[run.wf.ID] = run
	e.order = append(e.order, run.wf.ID)
	return nil
}

// pruneLocked drops terminal workflows created more than MaxAge ago.
func (e *Engine) pruneLocked(now time.Time) {
	kept := e.order[:0]
	for _, id := range e.order {
		run, ok := e.runs[id]
		if !ok {
			continue
		}
		if run.status().Terminal() && now.Sub(run.wf.CreatedAt) > e.cfg.MaxAge {
			delete(e.runs, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

// evictOldestTerminalLocked removes the oldest-created terminal workflow.
// Returns false when every resident workflow is still live.
func (e *Engine) evictOldestTerminalLocked() bool {
	for i, id := range e.order {
		run, ok := e.runs[id]
		if !ok {
			continue
		}
		if run.status().Terminal() {
			delete(e.runs, id)
			e.order = append(e.order[:i], e.order[i+1:]...)
			return true
		}
	}
	return false
}

// resolveParams interpolates ${{...}} references in a step's params. only
// restricts the visible step outputs; nil exposes all completed steps.
func (e *Engine) resolveParams(ctx context.Context, run *workflowRun, step *schema.WorkflowStep, only []string) (map[string]any, error) {
	if len(step.Params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(step.Params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal,
			"marshal params for step %q: %s", step.ID, err.Error()).WithStep(step.ID).WithCause(err)
	}
	if !expressions.HasInterpolation(raw) {
		return step.Params, nil
	}
	resolved, err := e.interp.Resolve(ctx, raw, run.interpolationScope(only))
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(resolved, &params); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"params for step %q are not valid JSON after interpolation: %s", step.ID, err.Error()).
			WithStep(step.ID).WithCause(err)
	}
	return params, nil
}

// executeStep runs one step through the tool executor and settles its
// terminal state. The returned error is a WORKFLOW_EXECUTION_ERROR naming
// the step; nil means the step COMPLETED.
func (e *Engine) executeStep(ctx context.Context, run *workflowRun, step *schema.WorkflowStep, only []string) error {
	if err := run.markStepRunning(step.ID); err != nil {
		return schema.NewWorkflowExecutionError(step.ID, err)
	}
	e.emit(ctx, run, schema.EventStepStarted, schema.PushWorkflowStepStart, map[string]any{
		"step_id": step.ID,
		"tool":    step.Tool,
	})

	params, err := e.resolveParams(ctx, run, step, only)
	if err != nil {
		return e.failStep(ctx, run, step, err)
	}

	res, err := e.runner.ExecuteTool(ctx, tools.ExecuteRequest{
		SandboxID:     run.sandboxID,
		SessionID:     run.sessionID,
		ToolName:      step.Tool,
		Params:        params,
		CorrelationID: run.wf.CorrelationID,
	})
	if err != nil {
		return e.failStep(ctx, run, step, err)
	}

	if err := run.markStepCompleted(step.ID, res.Data); err != nil {
		return schema.NewWorkflowExecutionError(step.ID, err)
	}
	e.emit(ctx, run, schema.EventStepCompleted, schema.PushWorkflowStepComplete, map[string]any{
		"step_id":     step.ID,
		"tool":        step.Tool,
		"tokens_used": res.TokensUsed,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return nil
}

// failStep settles a failed step on every surface and wraps the cause.
func (e *Engine) failStep(ctx context.Context, run *workflowRun, step *schema.WorkflowStep, cause error) error {
	if err := run.markStepFailed(step.ID, cause); err != nil {
		e.logger.WarnContext(ctx, "step failure bookkeeping rejected",
			slog.String("step_id", step.ID), slog.Any("error", err))
	}
	e.emit(ctx, run, schema.EventStepFailed, schema.PushWorkflowStepError, map[string]any{
		"step_id": step.ID,
		"tool":    step.Tool,
		"error":   cause.Error(),
	})
	e.logger.ErrorContext(ctx, "workflow step failed",
		slog.String("workflow_id", run.wf.ID),
		slog.String("step_id", step.ID),
		slog.String("tool", step.Tool),
		slog.Any("error", cause))
	return schema.NewWorkflowExecutionError(step.ID, cause)
}

// checkpointHalt is the error for a checkpoint that completed with an
// unsuccessful result. The remaining steps stay PENDING.
func checkpointHalt(step *schema.WorkflowStep) error {
	return schema.NewErrorf(schema.ErrCodeWorkflowExecution,
		"checkpoint step %q reported an unsuccessful result", step.ID).
		WithStep(step.ID).
		WithDetails(map[string]any{"checkpoint": true})
}

// canceled wraps a context error as the workflow failure for a run aborted
// between steps.
func canceled(step *schema.WorkflowStep, cause error) error {
	return schema.NewErrorf(schema.ErrCodeExecution,
		"workflow canceled before step %q: %s", step.ID, cause.Error()).
		WithStep(step.ID).
		WithCause(cause)
}

// emit publishes one lifecycle event on the bus, appends it to the replay
// log, and pushes it to the owning session when pushType is set. Publish
// failures are logged, never propagated.
func (e *Engine) emit(ctx context.Context, run *workflowRun, eventType, pushType string, payload map[string]any) {
	if err := e.bus.Publish(ctx, events.Event{
		Type:          eventType,
		CorrelationID: run.wf.CorrelationID,
		SandboxID:     run.sandboxID,
		SessionID:     run.sessionID,
		Payload:       payload,
	}); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("event_type", eventType), slog.Any("error", err))
	}
	e.replay.Append(run.wf.CorrelationID, eventType, payload)
	if pushType != "" {
		e.pusher.Push(run.sessionID, push.Message{
			Type:          pushType,
			CorrelationID: run.wf.CorrelationID,
			Payload:       payload,
		})
	}
}

func (e *Engine) recordWorkflow(pattern schema.WorkflowPattern, status schema.WorkflowStatus, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordWorkflow(string(pattern), string(status), duration)
	}
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return cp
}

func cloneCompensation(c *schema.CompensationSpec) *schema.CompensationSpec {
	if c == nil {
		return nil
	}
	return &schema.CompensationSpec{
		Tool:   c.Tool,
		Params: cloneParams(c.Params),
	}
}
