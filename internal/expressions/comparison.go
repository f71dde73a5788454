package expressions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/lotwise/driveline/pkg/schema"
)

// Op is a comparison operator in a compiled step condition.
type Op int

const (
	OpGT Op = iota
	OpLT
	OpGTE
	OpLTE
	OpEQ
	OpNE
)

func (o Op) String() string {
	switch o {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	case OpGTE:
		return ">="
	case OpLTE:
		return "<="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// Comparison is a step condition of the form "<stepId>.<dot.path> <op>
// <literal>", parsed once at workflow build time. Evaluation resolves the
// referenced step's result among completed steps; an unknown or not yet
// completed step makes the condition false, never an error.
type Comparison struct {
	StepID  string
	Path    []string
	Op      Op
	Literal any
	raw     string
}

// CompileComparison parses a condition string. Malformed conditions are
// definition errors and fail the workflow build.
func CompileComparison(condition string) (*Comparison, error) {
	s := strings.TrimSpace(condition)
	if s == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty condition")
	}

	// The reference runs up to the first operator character. This keeps
	// literals containing operator characters intact.
	idx := strings.IndexAny(s, "<>=!")
	if idx <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q: expected \"<stepId>.<path> <op> <literal>\"", condition)
	}

	ref := strings.TrimSpace(s[:idx])
	rest := s[idx:]

	var op Op
	var opLen int
	switch {
	case strings.HasPrefix(rest, ">="):
		op, opLen = OpGTE, 2
	case strings.HasPrefix(rest, "<="):
		op, opLen = OpLTE, 2
	case strings.HasPrefix(rest, "=="):
		op, opLen = OpEQ, 2
	case strings.HasPrefix(rest, "!="):
		op, opLen = OpNE, 2
	case strings.HasPrefix(rest, ">"):
		op, opLen = OpGT, 1
	case strings.HasPrefix(rest, "<"):
		op, opLen = OpLT, 1
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q: unsupported operator at %q", condition, rest)
	}

	lit := strings.TrimSpace(rest[opLen:])
	if lit == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q: missing literal after %s", condition, op)
	}

	stepID, path, ok := strings.Cut(ref, ".")
	if !ok || stepID == "" || path == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q: reference must be <stepId>.<path>", condition)
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition %q: empty segment in path %q", condition, path)
		}
	}

	return &Comparison{
		StepID:  stepID,
		Path:    segments,
		Op:      op,
		Literal: parseLiteral(lit),
		raw:     condition,
	}, nil
}

// parseLiteral decodes the literal as JSON when possible and falls back to
// the raw string, so both `"ACTIVE"` and ACTIVE read as the same value.
func parseLiteral(lit string) any {
	var v any
	if err := json.Unmarshal([]byte(lit), &v); err == nil {
		return v
	}
	return lit
}

// Evaluate resolves the referenced step among completed steps and applies
// the operator. completed maps step ID to the data exposed for that step;
// the engine exposes a {result, status, error} view per completed step.
func (c *Comparison) Evaluate(completed map[string]any) bool {
	result, ok := completed[c.StepID]
	if !ok {
		return false
	}
	value, ok := Lookup(result, c.Path)
	if !ok {
		return false
	}
	return compare(value, c.Op, c.Literal)
}

func (c *Comparison) String() string {
	return c.raw
}

// compare applies op between a step value and the condition literal.
// Ordering operators require both sides numeric; mismatched types are false
// rather than an error.
func compare(value any, op Op, literal any) bool {
	switch op {
	case OpGT, OpLT, OpGTE, OpLTE:
		a, aok := toFloat(value)
		b, bok := toFloat(literal)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGT:
			return a > b
		case OpLT:
			return a < b
		case OpGTE:
			return a >= b
		default:
			return a <= b
		}

	case OpEQ:
		return valuesEqual(value, literal)
	case OpNE:
		return !valuesEqual(value, literal)
	}
	return false
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toFloat coerces the numeric types produced by JSON decoding and by
// builtin tool results.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var _ fmt.Stringer = (*Comparison)(nil)
