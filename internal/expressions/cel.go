package expressions

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lotwise/driveline/pkg/schema"
)

// CELEngine compiles and evaluates CEL step conditions. Compiled programs
// are cached and reused across goroutines.
//
// The environment exposes two top-level variables:
//   - steps:    map(string, dyn) — completed step results keyed by step ID
//   - workflow: map(string, dyn) — workflow metadata (id, correlation_id)
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates the sandboxed CEL environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("steps", mapType),
		cel.Variable("workflow", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile parses and type-checks an expression, caching the program.
// Compile errors are definition errors surfaced at workflow build time.
func (e *CELEngine) Compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring the write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// EvaluateBool runs a compiled program against the step results. Runtime
// errors (missing key, type mismatch) and non-boolean results evaluate to
// false; conditions skip steps, they never crash workflows.
func EvaluateBool(prg cel.Program, steps, workflow map[string]any) bool {
	if steps == nil {
		steps = map[string]any{}
	}
	if workflow == nil {
		workflow = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"steps":    steps,
		"workflow": workflow,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
