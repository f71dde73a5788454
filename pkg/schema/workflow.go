package schema

import (
	"encoding/json"
	"time"
)

// WorkflowPattern selects the execution topology for a workflow.
type WorkflowPattern string

const (
	PatternSequential  WorkflowPattern = "SEQUENTIAL"
	PatternParallel    WorkflowPattern = "PARALLEL"
	PatternConditional WorkflowPattern = "CONDITIONAL"
)

// Valid reports whether p is a known pattern.
func (p WorkflowPattern) Valid() bool {
	switch p {
	case PatternSequential, PatternParallel, PatternConditional:
		return true
	}
	return false
}

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "PENDING"
	WorkflowStatusRunning    WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
	WorkflowStatusRolledBack WorkflowStatus = "ROLLED_BACK"
)

// Terminal reports whether the workflow can no longer change state.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusRolledBack:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of a workflow step.
// PENDING -> RUNNING -> {COMPLETED, FAILED, SKIPPED}; the three outcomes are
// terminal and a step never re-enters RUNNING.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// Terminal reports whether the step can no longer change state.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// WorkflowSpec is the definition side of a workflow: what to run, in which
// topology, and whether to compensate on failure. Specs are validated and
// compiled into a runtime Workflow by the engine before execution.
type WorkflowSpec struct {
	Name              string          `json:"name"`
	Pattern           WorkflowPattern `json:"pattern"`
	RollbackOnFailure bool            `json:"rollback_on_failure,omitempty"`
	Steps             []StepSpec      `json:"steps"`
}

// StepSpec defines one step of a workflow.
type StepSpec struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`

	// DependsOn lists step IDs that must be COMPLETED before this step is
	// scheduled. PARALLEL workflows only.
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition gates execution of this step. CONDITIONAL workflows only, and
	// never on the first step. Either "<stepId>.<dot.path> <op> <literal>" with
	// op in {>, <, >=, <=, ==, !=}, or a "cel:"-prefixed CEL expression over a
	// steps map. A false (or unresolvable) condition skips the step.
	Condition string `json:"condition,omitempty"`

	// Checkpoint marks a step whose unsuccessful result halts the workflow.
	Checkpoint bool `json:"checkpoint,omitempty"`

	// Compensation names the tool invoked for this step during rollback.
	Compensation *CompensationSpec `json:"compensation,omitempty"`
}

// CompensationSpec is the compensating action registered for a step.
type CompensationSpec struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// Workflow is a runtime execution instance. The engine owns the authoritative
// copy; accessors hand out clones.
type Workflow struct {
	ID                string          `json:"id"`
	CorrelationID     string          `json:"correlation_id"`
	Name              string          `json:"name"`
	Pattern           WorkflowPattern `json:"pattern"`
	RollbackOnFailure bool            `json:"rollback_on_failure,omitempty"`
	Status            WorkflowStatus  `json:"status"`
	CurrentStepIndex  int             `json:"current_step_index"`
	Steps             []*WorkflowStep `json:"steps"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// WorkflowStep is the runtime state of one step.
type WorkflowStep struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Tool         string            `json:"tool"`
	Params       map[string]any    `json:"params,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	Condition    string            `json:"condition,omitempty"`
	Checkpoint   bool              `json:"checkpoint,omitempty"`
	Compensation *CompensationSpec `json:"compensation,omitempty"`
	Status       StepStatus        `json:"status"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *WorkflowStep {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the engine.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Steps = make([]*WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		if s.Result != nil {
			sc.Result = append(json.RawMessage(nil), s.Result...)
		}
		if s.StartedAt != nil {
			t := *s.StartedAt
			sc.StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			sc.CompletedAt = &t
		}
		cp.Steps[i] = &sc
	}
	if w.StartedAt != nil {
		t := *w.StartedAt
		cp.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
