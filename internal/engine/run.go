package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/pkg/schema"
)

// workflowRun is the engine's mutable state for one workflow. The engine owns
// the authoritative Workflow; accessors hand out clones. Step and workflow
// mutations go through the locked mark* methods so parallel steps never race.
type workflowRun struct {
	mu sync.Mutex

	wf        *schema.Workflow
	sandboxID string
	sessionID string

	// conditions and the step list topology are immutable after Build.
	conditions map[string]expressions.Condition

	// outputs holds each completed step's decoded result. completed records
	// completion order; rollback walks it in reverse.
	outputs   map[string]any
	completed []string
}

func newWorkflowRun(wf *schema.Workflow, sandboxID, sessionID string, conditions map[string]expressions.Condition) *workflowRun {
	return &workflowRun{
		wf:         wf,
		sandboxID:  sandboxID,
		sessionID:  sessionID,
		conditions: conditions,
		outputs:    make(map[string]any),
	}
}

// snapshot returns a deep copy safe to hand outside the engine.
func (r *workflowRun) snapshot() *schema.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wf.Clone()
}

func (r *workflowRun) status() schema.WorkflowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wf.Status
}

func (r *workflowRun) setCurrentStepIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wf.CurrentStepIndex = i
}

func (r *workflowRun) markStepRunning(stepID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.wf.Step(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found", stepID)
	}
	if err := transitionStep(r.wf.ID, step, schema.StepStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	step.StartedAt = &now
	return nil
}

func (r *workflowRun) markStepCompleted(stepID string, result json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.wf.Step(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found", stepID)
	}
	if err := transitionStep(r.wf.ID, step, schema.StepStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	step.CompletedAt = &now
	if len(result) > 0 {
		step.Result = append(json.RawMessage(nil), result...)
	}
	if decoded, ok := expressions.Decode(step.Result); ok {
		r.outputs[stepID] = decoded
	}
	r.completed = append(r.completed, stepID)
	return nil
}

func (r *workflowRun) markStepFailed(stepID string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.wf.Step(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found", stepID)
	}
	if err := transitionStep(r.wf.ID, step, schema.StepStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	step.CompletedAt = &now
	if cause != nil {
		step.Error = cause.Error()
	}
	return nil
}

func (r *workflowRun) markStepSkipped(stepID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.wf.Step(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found", stepID)
	}
	return transitionStep(r.wf.ID, step, schema.StepStatusSkipped)
}

// stepSuccessful judges a checkpoint outcome: the step must be COMPLETED,
// and when its parsed result exposes a "success" key that value must be
// truthy. Results without a success key count as successful.
func (r *workflowRun) stepSuccessful(stepID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.wf.Step(stepID)
	if step == nil || step.Status != schema.StepStatusCompleted {
		return false
	}
	obj, ok := r.outputs[stepID].(map[string]any)
	if !ok {
		return true
	}
	val, present := obj["success"]
	if !present {
		return true
	}
	return expressions.Truthy(val)
}

// conditionScope exposes a {result, status, error} view per COMPLETED step,
// so conditions read "<stepId>.result.<path>" or "<stepId>.status". Steps in
// any other state are absent; conditions referencing them evaluate to false.
func (r *workflowRun) conditionScope() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope := make(map[string]any, len(r.completed))
	for _, id := range r.completed {
		step := r.wf.Step(id)
		if step == nil || step.Status != schema.StepStatusCompleted {
			continue
		}
		scope[id] = map[string]any{
			"result": r.outputs[id],
			"status": string(step.Status),
			"error":  step.Error,
		}
	}
	return scope
}

// workflowMeta is the workflow-level data exposed to conditions and
// interpolation.
func (r *workflowRun) workflowMeta() map[string]any {
	return map[string]any{
		"id":             r.wf.ID,
		"correlation_id": r.wf.CorrelationID,
		"name":           r.wf.Name,
	}
}

// interpolationScope returns the completed step outputs visible to ${{...}}
// references. A nil filter exposes every completed step; otherwise only the
// listed step IDs are visible, which is how PARALLEL restricts a step to its
// declared dependencies.
func (r *workflowRun) interpolationScope(only []string) *expressions.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make(map[string]any, len(r.outputs))
	if only == nil {
		for id, out := range r.outputs {
			steps[id] = out
		}
	} else {
		for _, id := range only {
			if out, ok := r.outputs[id]; ok {
				steps[id] = out
			}
		}
	}
	return &expressions.Scope{
		Steps:    steps,
		Workflow: r.workflowMeta(),
	}
}

// completionOrder returns a copy of the completion order.
func (r *workflowRun) completionOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.completed...)
}
