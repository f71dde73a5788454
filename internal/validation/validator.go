package validation

import (
	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/pkg/schema"
)

// Validator checks workflow specs and tool parameters before execution.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateSpec(spec *schema.WorkflowSpec) error
	ValidateParams(params map[string]any, paramSchema []byte) error
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema, duplicate step IDs)
// 2. Semantic (tool refs, dependency refs, condition placement and syntax)
// 3. DAG (cycles, reachability; PARALLEL only)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	tools      ToolLookup
	conditions *expressions.Compiler
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to skip
// tool existence checks; conditions may be nil to skip condition syntax checks.
func NewWorkflowValidator(lookup ToolLookup, conditions *expressions.Compiler) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		tools:      lookup,
		conditions: conditions,
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (wv *WorkflowValidator) Validate(spec *schema.WorkflowSpec) *schema.ValidationResult {
	if spec == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow spec is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(wv.jsonSchema, spec)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(spec, wv.tools, wv.conditions))
	result.Merge(validateCompensationCoverage(spec))

	// Stage 3: DAG (skip if semantic errors, the graph may be invalid).
	if result.Valid() {
		result.Merge(validateDAG(spec))
	}

	return result
}

// ValidateSpec satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateSpec(spec *schema.WorkflowSpec) error {
	return wv.Validate(spec).ToError()
}

// ValidateParams delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateParams(params map[string]any, paramSchema []byte) error {
	return wv.jsonSchema.ValidateParams(params, paramSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateSpec, converting its
// error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, spec *schema.WorkflowSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateSpec(spec)
	if err == nil {
		return result
	}

	derr, ok := err.(*schema.DrivelineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if derr.Details != nil {
		if violations, ok := derr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, derr.Message)
	return result
}
