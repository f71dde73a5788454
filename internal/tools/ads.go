package tools

import (
	"context"
	"encoding/json"

	"github.com/lotwise/driveline/internal/adsqueue"
	"github.com/lotwise/driveline/pkg/schema"
)

// TaskQueue accepts async advertising work. Satisfied by adsqueue.MemoryQueue.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload map[string]any) (string, error)
}

// AdsTools returns the advertising pack. Campaign creation is fire-and-forget:
// the tool returns a task id immediately and the outcome arrives later as
// TASK_* and CAMPAIGN_* events, never as the tool result.
func AdsTools(queue TaskQueue) []Tool {
	return []Tool{
		&createCampaignTool{queue: queue},
	}
}

// --- ads.create_campaign ---

type createCampaignTool struct {
	queue TaskQueue
}

func (t *createCampaignTool) Name() string { return "create_campaign" }

func (t *createCampaignTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Queue an advertising campaign for creation; completion is reported via events",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": { "type": "string", "minLength": 1 },
				"budget_usd": { "type": "number", "exclusiveMinimum": 0 },
				"channel": { "type": "string", "enum": ["search", "social", "display", "video"] },
				"start_date": { "type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$" },
				"duration_days": { "type": "integer", "minimum": 1, "maximum": 365 },
				"dry_run": { "type": "boolean" }
			},
			"required": ["name", "budget_usd"],
			"additionalProperties": false
		}`),
	}
}

func (t *createCampaignTool) Execute(ctx context.Context, input ToolInput) (*ToolOutput, error) {
	payload := make(map[string]any, len(input.Params)+3)
	for k, v := range input.Params {
		payload[k] = v
	}
	// Routing identity rides in the payload so the queue can stamp it onto
	// the events it publishes for this task.
	for _, key := range []string{"sandbox_id", "session_id", "correlation_id"} {
		if v, ok := input.Context[key]; ok {
			payload[key] = v
		}
	}

	taskID, err := t.queue.Enqueue(ctx, adsqueue.TaskTypeCreateCampaign, payload)
	if err != nil {
		return nil, err
	}

	out, err := marshalOutput(map[string]any{
		"task_id": taskID,
		"status":  "queued",
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "acknowledgment is not serializable").WithCause(err)
	}
	return out, nil
}
