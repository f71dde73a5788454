package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lotwise/driveline/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- GoJQ ---

func TestGoJQEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*GoJQEngine)(nil)
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQ_SelectField(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"make": "Ford", "model": "F-150"}

	out, err := e.Evaluate(context.Background(), ".model", data)
	require.NoError(t, err)
	assert.Equal(t, "F-150", out)
}

func TestGoJQ_FilterAndReshape(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"vehicles": []any{
			map[string]any{"vin": "A", "price": 42000},
			map[string]any{"vin": "B", "price": 31000},
			map[string]any{"vin": "C", "price": 56000},
		},
	}

	out, err := e.Evaluate(context.Background(), "[.vehicles[] | select(.price < 50000) | .vin]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[broken", map[string]any{})
	require.Error(t, err)

	var derr *schema.DrivelineError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".a + 1", map[string]any{"a": "text"})
	require.Error(t, err)

	var derr *schema.DrivelineError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeExecution, derr.Code)
}

func TestGoJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)
}

func TestGoJQ_CompileCached(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".x", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), ".x", map[string]any{"x": 2})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestGoJQ_ConcurrentEvaluate(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"n": 7}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), ".n * 2", data)
			assert.NoError(t, err)
			assert.Equal(t, 14.0, out)
		}()
	}
	wg.Wait()
}

// --- Expr ---

func TestExprEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*ExprEngine)(nil)
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "price * 0.9", map[string]any{"price": 40000.0})
	require.NoError(t, err)
	assert.Equal(t, 36000.0, out)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"leads": []any{
			map[string]any{"score": 82},
			map[string]any{"score": 45},
			map[string]any{"score": 91},
		},
	}

	out, err := e.Evaluate(context.Background(), "len(filter(leads, .score > 80))", data)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +++ 2", map[string]any{})
	require.Error(t, err)

	var derr *schema.DrivelineError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExpr_CompileCached(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "a + b", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "a + b", map[string]any{"a": 5, "b": 6})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
