package engine

import (
	"context"
)

// runSequential executes steps in declared order. The first step error
// aborts the run; a checkpoint step that completes unsuccessfully halts it
// with the remaining steps left PENDING.
func (e *Engine) runSequential(ctx context.Context, run *workflowRun) error {
	for i, step := range run.wf.Steps {
		if err := ctx.Err(); err != nil {
			return canceled(step, err)
		}
		run.setCurrentStepIndex(i)

		if err := e.executeStep(ctx, run, step, nil); err != nil {
			return err
		}
		if step.Checkpoint && !run.stepSuccessful(step.ID) {
			return checkpointHalt(step)
		}
	}
	return nil
}
