package expressions

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// CELPrefix marks conditions written in CEL instead of the comparison
// grammar, e.g. "cel: steps.check.roi > 5.0 && steps.check.spend < 100.0".
const CELPrefix = "cel:"

// Condition decides at runtime whether a conditional step executes. A false
// result skips the step. Implementations never return errors: a condition
// that cannot resolve evaluates to false.
type Condition interface {
	Evaluate(completed, workflow map[string]any) bool
	String() string
}

// Compiler turns condition strings into Conditions at workflow build time,
// so malformed conditions fail the build rather than a running workflow.
type Compiler struct {
	cel *CELEngine
}

// NewCompiler creates a condition compiler with a shared CEL engine.
func NewCompiler() (*Compiler, error) {
	engine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Compiler{cel: engine}, nil
}

// Compile parses one condition string in either dialect.
func (c *Compiler) Compile(condition string) (Condition, error) {
	if src, ok := strings.CutPrefix(strings.TrimSpace(condition), CELPrefix); ok {
		prg, err := c.cel.Compile(strings.TrimSpace(src))
		if err != nil {
			return nil, err
		}
		return celCondition{prg: prg, src: condition}, nil
	}

	cmp, err := CompileComparison(condition)
	if err != nil {
		return nil, err
	}
	return comparisonCondition{cmp: cmp}, nil
}

type comparisonCondition struct {
	cmp *Comparison
}

func (c comparisonCondition) Evaluate(completed, _ map[string]any) bool {
	return c.cmp.Evaluate(completed)
}

func (c comparisonCondition) String() string { return c.cmp.String() }

type celCondition struct {
	prg cel.Program
	src string
}

func (c celCondition) Evaluate(completed, workflow map[string]any) bool {
	return EvaluateBool(c.prg, completed, workflow)
}

func (c celCondition) String() string { return c.src }
