package tools

import (
	"context"
	"encoding/json"
)

// Tool is an executable unit of work: a dealership operation, an analytics
// question, an async campaign request. Tools are registered once at startup
// and dispatched by name through the registry, never through type switches.
type Tool interface {
	Name() string
	Schema() ToolSchema
	Execute(ctx context.Context, input ToolInput) (*ToolOutput, error)
}

// ToolSchema describes a tool's contract. ParamSchema, when present, is a
// JSON Schema the executor validates params against before dispatch.
type ToolSchema struct {
	Description string          `json:"description,omitempty"`
	ParamSchema json.RawMessage `json:"param_schema,omitempty"`
}

// ToolInput is the data provided to a tool at execution time. OnProgress may
// be invoked any number of times before the tool resolves; it is never nil
// when dispatched through the executor.
type ToolInput struct {
	Params     map[string]any       `json:"params"`
	Context    map[string]any       `json:"context,omitempty"`
	OnProgress func(map[string]any) `json:"-"`
}

// Progress reports intermediate state when a callback is attached.
func (in ToolInput) Progress(update map[string]any) {
	if in.OnProgress != nil {
		in.OnProgress(update)
	}
}

// ToolOutput is the result of a tool execution. TokensUsed and CostMicros are
// the tool's own accounting when it has any; zero means "not reported" and
// the executor falls back to the pre-execution estimate.
type ToolOutput struct {
	Data       json.RawMessage `json:"data,omitempty"`
	TokensUsed int64           `json:"tokens_used,omitempty"`
	CostMicros int64           `json:"cost_micros,omitempty"`
}

// ToolInfo is a summary of a registered tool for listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// marshalOutput wraps a value as a ToolOutput with JSON data.
func marshalOutput(v any) (*ToolOutput, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &ToolOutput{Data: data}, nil
}
