package engine

import (
	"context"
	"log/slog"

	"github.com/lotwise/driveline/internal/tools"
	"github.com/lotwise/driveline/pkg/schema"
)

// runRollback compensates the completed steps of a failed workflow in
// reverse completion order. A step that failed is not in the completion
// order; a checkpoint that completed with an unsuccessful result is, and is
// compensated like any other completed step. Each compensation tool runs
// through the tool executor exactly once; compensation errors are logged
// and the walk continues, never compensating a compensation.
func (e *Engine) runRollback(ctx context.Context, run *workflowRun) {
	order := run.completionOrder()

	compensatable := 0
	for _, id := range order {
		if step := run.wf.Step(id); step != nil && step.Compensation != nil {
			compensatable++
		}
	}

	e.emit(ctx, run, schema.EventRollbackStarted, "", map[string]any{
		"workflow_id":     run.wf.ID,
		"completed_steps": len(order),
		"compensations":   compensatable,
	})
	e.logger.InfoContext(ctx, "rollback started",
		slog.String("workflow_id", run.wf.ID),
		slog.Int("compensations", compensatable))

	for i := len(order) - 1; i >= 0; i-- {
		step := run.wf.Step(order[i])
		if step == nil || step.Compensation == nil {
			continue
		}

		payload := map[string]any{
			"step_id": step.ID,
			"tool":    step.Compensation.Tool,
		}
		_, err := e.runner.ExecuteTool(ctx, tools.ExecuteRequest{
			SandboxID:     run.sandboxID,
			SessionID:     run.sessionID,
			ToolName:      step.Compensation.Tool,
			Params:        step.Compensation.Params,
			CorrelationID: run.wf.CorrelationID,
		})
		if err != nil {
			payload["error"] = err.Error()
			e.logger.ErrorContext(ctx, "compensation failed",
				slog.String("workflow_id", run.wf.ID),
				slog.String("step_id", step.ID),
				slog.String("tool", step.Compensation.Tool),
				slog.Any("error", err))
		}
		e.emit(ctx, run, schema.EventStepRolledBack, schema.PushWorkflowStepRollback, payload)
	}

	e.emit(ctx, run, schema.EventRollbackCompleted, "", map[string]any{
		"workflow_id": run.wf.ID,
	})
}
