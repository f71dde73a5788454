package engine

import (
	"context"
	"log/slog"

	"github.com/lotwise/driveline/pkg/schema"
)

// runConditional executes steps in declared order, evaluating each step's
// compiled condition against the completed steps so far. A false condition
// skips the step and the run continues; a condition referencing an unknown
// or non-COMPLETED step is false, never an error. Checkpoint semantics
// match the sequential pattern.
func (e *Engine) runConditional(ctx context.Context, run *workflowRun) error {
	for i, step := range run.wf.Steps {
		if err := ctx.Err(); err != nil {
			return canceled(step, err)
		}
		run.setCurrentStepIndex(i)

		if cond, ok := run.conditions[step.ID]; ok {
			if !cond.Evaluate(run.conditionScope(), run.workflowMeta()) {
				if err := run.markStepSkipped(step.ID); err != nil {
					return schema.NewWorkflowExecutionError(step.ID, err)
				}
				e.emit(ctx, run, schema.EventStepSkipped, schema.PushWorkflowStepSkip, map[string]any{
					"step_id":   step.ID,
					"tool":      step.Tool,
					"condition": step.Condition,
				})
				e.logger.DebugContext(ctx, "workflow step skipped",
					slog.String("workflow_id", run.wf.ID),
					slog.String("step_id", step.ID),
					slog.String("condition", step.Condition))
				continue
			}
		}

		if err := e.executeStep(ctx, run, step, nil); err != nil {
			return err
		}
		if step.Checkpoint && !run.stepSuccessful(step.ID) {
			return checkpointHalt(step)
		}
	}
	return nil
}
