package engine

import (
	"github.com/lotwise/driveline/pkg/schema"
)

// workflowTransitions defines the allowed workflow state machine. FAILED may
// advance to ROLLED_BACK when compensations run; the other terminal states
// never change.
var workflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusPending:    {schema.WorkflowStatusRunning},
	schema.WorkflowStatusRunning:    {schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed},
	schema.WorkflowStatusFailed:     {schema.WorkflowStatusRolledBack},
	schema.WorkflowStatusCompleted:  {},
	schema.WorkflowStatusRolledBack: {},
}

// stepTransitions defines the allowed step state machine. A step never
// re-enters RUNNING; SKIPPED is only reachable from PENDING.
var stepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

func validWorkflowTransition(from, to schema.WorkflowStatus) bool {
	for _, a := range workflowTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func validStepTransition(from, to schema.StepStatus) bool {
	for _, a := range stepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// transitionWorkflow moves a workflow to a new status or rejects the move.
func transitionWorkflow(wf *schema.Workflow, to schema.WorkflowStatus) error {
	if !validWorkflowTransition(wf.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", wf.Status, to).
			WithDetails(map[string]any{
				"workflow_id": wf.ID,
				"from":        string(wf.Status),
				"to":          string(to),
			})
	}
	wf.Status = to
	return nil
}

// transitionStep moves a step to a new status or rejects the move.
func transitionStep(workflowID string, step *schema.WorkflowStep, to schema.StepStatus) error {
	if !validStepTransition(step.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", step.Status, to).
			WithStep(step.ID).
			WithDetails(map[string]any{
				"workflow_id": workflowID,
				"from":        string(step.Status),
				"to":          string(to),
			})
	}
	step.Status = to
	return nil
}
