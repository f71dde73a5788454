package validation

import (
	"testing"

	"github.com/lotwise/driveline/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parallelSpec(steps ...schema.StepSpec) *schema.WorkflowSpec {
	return &schema.WorkflowSpec{
		Name:    "wf",
		Pattern: schema.PatternParallel,
		Steps:   steps,
	}
}

func TestDAG_NoEdges(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t"},
		schema.StepSpec{ID: "b", Tool: "t"},
	)
	result := validateDAG(spec)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_Chain(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t"},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		schema.StepSpec{ID: "c", Tool: "t", DependsOn: []string{"b"}},
	)
	result := validateDAG(spec)
	assert.True(t, result.Valid())
}

func TestDAG_Diamond(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t"},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		schema.StepSpec{ID: "c", Tool: "t", DependsOn: []string{"a"}},
		schema.StepSpec{ID: "d", Tool: "t", DependsOn: []string{"b", "c"}},
	)
	result := validateDAG(spec)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_TwoNodeCycle(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t", DependsOn: []string{"b"}},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"a"}},
	)
	result := validateDAG(spec)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestDAG_ThreeNodeCycle(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t", DependsOn: []string{"c"}},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		schema.StepSpec{ID: "c", Tool: "t", DependsOn: []string{"b"}},
	)
	result := validateDAG(spec)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestDAG_CycleWithValidBranch(t *testing.T) {
	// a is fine; b<->c cycle still fails the whole workflow.
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t"},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"c"}},
		schema.StepSpec{ID: "c", Tool: "t", DependsOn: []string{"b"}},
	)
	result := validateDAG(spec)
	require.False(t, result.Valid())
}

func TestDAG_SkipsNonParallelPatterns(t *testing.T) {
	// Sequential order ignores depends_on, so the "cycle" is inert.
	spec := &schema.WorkflowSpec{
		Name:    "wf",
		Pattern: schema.PatternSequential,
		Steps: []schema.StepSpec{
			{ID: "a", Tool: "t", DependsOn: []string{"b"}},
			{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		},
	}
	result := validateDAG(spec)
	assert.True(t, result.Valid())
}

func TestDAG_FiltersInvalidRefs(t *testing.T) {
	// "island" depends on a step that doesn't exist. Semantic catches the bad
	// ref; DAG filters it and sees "island" as a root.
	spec := parallelSpec(
		schema.StepSpec{ID: "root", Tool: "t"},
		schema.StepSpec{ID: "island", Tool: "t", DependsOn: []string{"ghost"}},
	)
	result := validateDAG(spec)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_SkipsDuplicateDeps(t *testing.T) {
	spec := parallelSpec(
		schema.StepSpec{ID: "a", Tool: "t"},
		schema.StepSpec{ID: "b", Tool: "t", DependsOn: []string{"a", "a", "a"}},
	)
	result := validateDAG(spec)
	assert.True(t, result.Valid())
}
