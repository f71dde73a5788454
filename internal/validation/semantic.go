package validation

import (
	"fmt"

	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/pkg/schema"
)

// ToolLookup reports whether a tool name is registered. Implemented by the
// tool registry; a nil lookup skips tool existence checks.
type ToolLookup interface {
	Has(name string) bool
}

// validateSemantic performs semantic analysis on the workflow spec.
// Checks: tool names registered, depends_on refs valid, condition placement
// and syntax, compensation tool registered.
func validateSemantic(spec *schema.WorkflowSpec, lookup ToolLookup, conditions *expressions.Compiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Build top-level step ID set.
	stepIDs := make(map[string]bool, len(spec.Steps))
	for _, s := range spec.Steps {
		stepIDs[s.ID] = true
	}

	for i := range spec.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStepSemantic(&spec.Steps[i], path, i, spec.Pattern, stepIDs, lookup, conditions, result)
	}

	return result
}

// validateStepSemantic checks a single step against the workflow pattern.
func validateStepSemantic(step *schema.StepSpec, path string, index int, pattern schema.WorkflowPattern, stepIDs map[string]bool, lookup ToolLookup, conditions *expressions.Compiler, result *schema.ValidationResult) {
	// Tool existence.
	if step.Tool != "" && lookup != nil && !lookup.Has(step.Tool) {
		result.AddError(path+".tool", schema.ErrCodeToolNotFound,
			fmt.Sprintf("tool %q not registered", step.Tool))
	}

	// depends_on references: unknown, duplicate, self.
	seen := make(map[string]bool, len(step.DependsOn))
	for j, dep := range step.DependsOn {
		depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
		switch {
		case !stepIDs[dep]:
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", dep))
		case dep == step.ID:
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("step %q depends on itself", step.ID))
		case seen[dep]:
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate dependency %q", dep))
		}
		seen[dep] = true
	}

	// Dependencies only drive scheduling in PARALLEL workflows.
	if len(step.DependsOn) > 0 && pattern != schema.PatternParallel {
		result.AddWarning(path+".depends_on", schema.ErrCodeValidation,
			fmt.Sprintf("depends_on is ignored in %s workflows", pattern))
	}

	// Conditions gate steps in CONDITIONAL workflows, never the first step.
	if step.Condition != "" {
		switch {
		case pattern != schema.PatternConditional:
			result.AddWarning(path+".condition", schema.ErrCodeValidation,
				fmt.Sprintf("condition is ignored in %s workflows", pattern))
		case index == 0:
			result.AddError(path+".condition", schema.ErrCodeValidation,
				"first step cannot carry a condition; no prior results exist to evaluate it against")
		default:
			validateConditionSyntax(step.Condition, path, conditions, result)
		}
	}

	// Compensation tool existence.
	if step.Compensation != nil {
		if step.Compensation.Tool != "" && lookup != nil && !lookup.Has(step.Compensation.Tool) {
			result.AddError(path+".compensation.tool", schema.ErrCodeToolNotFound,
				fmt.Sprintf("compensation tool %q not registered", step.Compensation.Tool))
		}
	}
}

// validateConditionSyntax compiles the condition to catch malformed syntax at
// build time. Runtime resolution failures (unknown step, missing path) are
// false-and-skip, never errors, so only syntax is checked here.
func validateConditionSyntax(condition, path string, conditions *expressions.Compiler, result *schema.ValidationResult) {
	if conditions == nil {
		return
	}
	if _, err := conditions.Compile(condition); err != nil {
		msg := err.Error()
		if derr, ok := err.(*schema.DrivelineError); ok {
			msg = derr.Message
		}
		result.AddError(path+".condition", schema.ErrCodeValidation, msg)
	}
}

// validateCompensationCoverage warns when compensations can never run.
func validateCompensationCoverage(spec *schema.WorkflowSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if spec.RollbackOnFailure {
		return result
	}
	for i, s := range spec.Steps {
		if s.Compensation != nil {
			result.AddWarning(fmt.Sprintf("steps[%d].compensation", i), schema.ErrCodeValidation,
				fmt.Sprintf("compensation for step %q is never invoked without rollback_on_failure", s.ID))
		}
	}
	return result
}
