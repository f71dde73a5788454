package tools

import (
	"context"
	"encoding/json"

	"github.com/lotwise/driveline/internal/breaker"
	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/insights"
	"github.com/lotwise/driveline/pkg/schema"
)

// AnalyticsTools returns the analytics pack backed by the given insights
// client. Every call runs under the "analytics" circuit breaker, so a flaky
// provider fails fast instead of tying up workflow steps.
func AnalyticsTools(client insights.Client, breakers *breaker.Registry, bus events.Publisher) []Tool {
	return []Tool{
		&answerQuestionTool{client: client, breakers: breakers, bus: bus},
	}
}

// --- analytics.answer ---

type answerQuestionTool struct {
	client   insights.Client
	breakers *breaker.Registry
	bus      events.Publisher
}

func (t *answerQuestionTool) Name() string { return "answer" }

func (t *answerQuestionTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Answer a natural-language question about dealership performance data",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dataset_id": { "type": "string", "minLength": 1 },
				"question": { "type": "string", "minLength": 1 },
				"metrics": { "type": "object" }
			},
			"required": ["question"],
			"additionalProperties": false
		}`),
	}
}

func (t *answerQuestionTool) Execute(ctx context.Context, input ToolInput) (*ToolOutput, error) {
	question, _ := input.Params["question"].(string)
	datasetID, _ := input.Params["dataset_id"].(string)
	if datasetID == "" {
		datasetID = "default"
	}
	metrics, _ := input.Params["metrics"].(map[string]any)

	input.Progress(map[string]any{"stage": "querying_analytics", "dataset_id": datasetID})

	result, err := t.breakers.Do(ctx, "analytics", func(callCtx context.Context) (any, error) {
		return t.client.AnswerQuestion(callCtx, datasetID, question, metrics)
	})
	if err != nil {
		return nil, err
	}
	answer, ok := result.(*insights.Answer)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeInternal, "insights client returned an unexpected result type")
	}

	t.publishFindings(ctx, input, datasetID, answer)

	out, err := marshalOutput(answer)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "answer is not serializable").WithCause(err)
	}
	out.TokensUsed = answer.TokensUsed
	return out, nil
}

// publishFindings emits one event per alert and recommendation so dashboards
// and the replay log see them even when the workflow discards the tool result.
func (t *answerQuestionTool) publishFindings(ctx context.Context, input ToolInput, datasetID string, answer *insights.Answer) {
	if t.bus == nil {
		return
	}
	sandboxID, _ := input.Context["sandbox_id"].(string)
	sessionID, _ := input.Context["session_id"].(string)
	correlationID, _ := input.Context["correlation_id"].(string)

	for _, alert := range answer.Alerts {
		_ = t.bus.Publish(ctx, events.Event{
			Type:          schema.EventAlertGenerated,
			CorrelationID: correlationID,
			SandboxID:     sandboxID,
			SessionID:     sessionID,
			Payload: map[string]any{
				"dataset_id": datasetID,
				"severity":   alert.Severity,
				"message":    alert.Message,
			},
		})
	}
	for _, rec := range answer.Recommendations {
		_ = t.bus.Publish(ctx, events.Event{
			Type:          schema.EventRecommendationGenerated,
			CorrelationID: correlationID,
			SandboxID:     sandboxID,
			SessionID:     sessionID,
			Payload: map[string]any{
				"dataset_id": datasetID,
				"action":     rec.Action,
				"reason":     rec.Reason,
			},
		})
	}
}
