package expressions

import "context"

// Engine evaluates a string expression against a data scope. Engines compile
// lazily and cache compiled programs, so repeated evaluation of the same
// expression across workflow runs stays cheap.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
