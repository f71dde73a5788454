package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwise/driveline/pkg/schema"
)

func TestWorkflowTransitions(t *testing.T) {
	all := []schema.WorkflowStatus{
		schema.WorkflowStatusPending,
		schema.WorkflowStatusRunning,
		schema.WorkflowStatusCompleted,
		schema.WorkflowStatusFailed,
		schema.WorkflowStatusRolledBack,
	}
	allowed := map[schema.WorkflowStatus][]schema.WorkflowStatus{
		schema.WorkflowStatusPending: {schema.WorkflowStatusRunning},
		schema.WorkflowStatusRunning: {schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed},
		schema.WorkflowStatusFailed:  {schema.WorkflowStatusRolledBack},
	}

	for _, from := range all {
		for _, to := range all {
			ok := false
			for _, a := range allowed[from] {
				if a == to {
					ok = true
				}
			}

			wf := &schema.Workflow{ID: "wf-1", Status: from}
			err := transitionWorkflow(wf, to)
			if ok {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, wf.Status)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
				assert.Equal(t, from, wf.Status, "rejected transition must not mutate")
			}
		}
	}
}

func TestStepTransitions(t *testing.T) {
	all := []schema.StepStatus{
		schema.StepStatusPending,
		schema.StepStatusRunning,
		schema.StepStatusCompleted,
		schema.StepStatusFailed,
		schema.StepStatusSkipped,
	}
	allowed := map[schema.StepStatus][]schema.StepStatus{
		schema.StepStatusPending: {schema.StepStatusRunning, schema.StepStatusSkipped},
		schema.StepStatusRunning: {schema.StepStatusCompleted, schema.StepStatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			ok := false
			for _, a := range allowed[from] {
				if a == to {
					ok = true
				}
			}

			step := &schema.WorkflowStep{ID: "s1", Status: from}
			err := transitionStep("wf-1", step, to)
			if ok {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, step.Status)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
				assert.Equal(t, from, step.Status)
			}
		}
	}
}

func TestTransitionErrorsCarryContext(t *testing.T) {
	wf := &schema.Workflow{ID: "wf-9", Status: schema.WorkflowStatusCompleted}
	err := transitionWorkflow(wf, schema.WorkflowStatusRunning)
	require.Error(t, err)

	var derr *schema.DrivelineError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, derr.Code)
	assert.Equal(t, "wf-9", derr.Details["workflow_id"])
	assert.Equal(t, string(schema.WorkflowStatusCompleted), derr.Details["from"])
	assert.Equal(t, string(schema.WorkflowStatusRunning), derr.Details["to"])

	step := &schema.WorkflowStep{ID: "verify", Status: schema.StepStatusSkipped}
	err = transitionStep("wf-9", step, schema.StepStatusRunning)
	require.Error(t, err)
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, derr.Code)
	assert.Equal(t, "verify", derr.StepID)
}
