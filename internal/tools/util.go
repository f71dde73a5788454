package tools

import (
	"context"
	"encoding/json"

	"github.com/lotwise/driveline/internal/expressions"
	"github.com/lotwise/driveline/pkg/schema"
)

// UtilityTools returns the data-shaping pack: jq queries and expression
// evaluation over step data. Unlike the domain packs these carry their full
// dotted names, so they register without a prefix.
func UtilityTools() []Tool {
	return []Tool{
		&jsonQueryTool{engine: expressions.NewGoJQEngine()},
		&transformEvalTool{engine: expressions.NewExprEngine()},
	}
}

// --- json.query ---

type jsonQueryTool struct {
	engine *expressions.GoJQEngine
}

func (t *jsonQueryTool) Name() string { return "json.query" }

func (t *jsonQueryTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Run a jq expression against the provided data",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": { "type": "string", "minLength": 1 },
				"data": { "type": "object" }
			},
			"required": ["expression"],
			"additionalProperties": false
		}`),
	}
}

func (t *jsonQueryTool) Execute(ctx context.Context, input ToolInput) (*ToolOutput, error) {
	expression, _ := input.Params["expression"].(string)
	data, _ := input.Params["data"].(map[string]any)

	result, err := t.engine.Evaluate(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	out, err := marshalOutput(map[string]any{"result": result})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "query result is not serializable").WithCause(err)
	}
	return out, nil
}

// --- transform.eval ---

type transformEvalTool struct {
	engine *expressions.ExprEngine
}

func (t *transformEvalTool) Name() string { return "transform.eval" }

func (t *transformEvalTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Evaluate an Expr expression against the provided data",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": { "type": "string", "minLength": 1 },
				"data": { "type": "object" }
			},
			"required": ["expression"],
			"additionalProperties": false
		}`),
	}
}

func (t *transformEvalTool) Execute(ctx context.Context, input ToolInput) (*ToolOutput, error) {
	expression, _ := input.Params["expression"].(string)
	data, _ := input.Params["data"].(map[string]any)

	scope := make(map[string]any, len(data)+len(input.Context))
	for k, v := range input.Context {
		scope[k] = v
	}
	for k, v := range data {
		scope[k] = v
	}

	result, err := t.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	out, err := marshalOutput(map[string]any{"result": result})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "evaluation result is not serializable").WithCause(err)
	}
	return out, nil
}
