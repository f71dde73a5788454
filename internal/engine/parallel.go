package engine

import (
	"context"

	"github.com/lotwise/driveline/pkg/schema"
)

// runParallel executes steps under dependency barriers. Steps with no
// dependencies start concurrently, bounded by Config.Parallelism; a
// dependent step is scheduled only once every one of its dependencies is
// COMPLETED. A failed dependency means the dependent is never scheduled and
// stays PENDING. The first failure (or unsuccessful checkpoint) stops new
// scheduling; in-flight steps finish before the run settles.
func (e *Engine) runParallel(ctx context.Context, run *workflowRun) error {
	type outcome struct {
		step *schema.WorkflowStep
		err  error
	}

	waiting := make(map[string]*schema.WorkflowStep, len(run.wf.Steps))
	for _, s := range run.wf.Steps {
		waiting[s.ID] = s
	}
	completed := make(map[string]bool, len(run.wf.Steps))

	results := make(chan outcome)
	sem := make(chan struct{}, e.cfg.Parallelism)
	inflight := 0

	eligible := func(s *schema.WorkflowStep) bool {
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				return false
			}
		}
		return true
	}

	start := func(s *schema.WorkflowStep) {
		delete(waiting, s.ID)
		inflight++

		// A step only ever sees its declared dependencies' outputs; an
		// independent step sees none.
		deps := s.DependsOn
		if deps == nil {
			deps = []string{}
		}

		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			err := e.executeStep(ctx, run, s, deps)
			if err == nil && s.Checkpoint && !run.stepSuccessful(s.ID) {
				err = checkpointHalt(s)
			}
			results <- outcome{step: s, err: err}
		}()
	}

	schedule := func() {
		for _, s := range run.wf.Steps {
			if _, blocked := waiting[s.ID]; blocked && eligible(s) {
				start(s)
			}
		}
	}
	schedule()

	// The scheduler loop owns waiting and completed; step goroutines only
	// report outcomes.
	var firstErr error
	for inflight > 0 {
		out := <-results
		inflight--

		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		completed[out.step.ID] = true

		if firstErr != nil || ctx.Err() != nil {
			continue
		}
		schedule()
	}

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil && len(waiting) > 0 {
		for _, s := range run.wf.Steps {
			if _, blocked := waiting[s.ID]; blocked {
				return canceled(s, err)
			}
		}
	}
	return nil
}
