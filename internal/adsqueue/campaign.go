package adsqueue

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/pkg/schema"
)

// TaskTypeCreateCampaign is the task type for campaign creation requests.
const TaskTypeCreateCampaign = "create_campaign"

const (
	defaultChannel      = "search"
	defaultDurationDays = 30
	dateLayout          = "2006-01-02"
)

// NewCampaignHandler returns the handler for create_campaign tasks. It builds
// the campaign from the queued payload and publishes CAMPAIGN_CREATED, or
// CAMPAIGN_DRY_RUN when the request only wanted a preview.
func NewCampaignHandler(bus events.Publisher, logger *slog.Logger) TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, task Task) (map[string]any, error) {
		summary, err := buildCampaign(task)
		if err != nil {
			return nil, err
		}

		eventType := schema.EventCampaignCreated
		if dryRun, _ := task.Payload["dry_run"].(bool); dryRun {
			eventType = schema.EventCampaignDryRun
		}
		pubErr := bus.Publish(ctx, events.Event{
			Type:          eventType,
			CorrelationID: stringField(task.Payload, "correlation_id"),
			SandboxID:     stringField(task.Payload, "sandbox_id"),
			SessionID:     stringField(task.Payload, "session_id"),
			Payload:       summary,
		})
		if pubErr != nil {
			logger.Warn("failed to publish campaign event",
				slog.String("event_type", eventType),
				slog.String("task_id", task.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		return summary, nil
	}
}

// buildCampaign assembles the campaign summary from a queued payload. The
// producing tool validates params against its JSON Schema, so failures here
// mean a payload was enqueued outside the tool path.
func buildCampaign(task Task) (map[string]any, error) {
	name := stringField(task.Payload, "name")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "campaign name is required")
	}
	budget, ok := floatField(task.Payload, "budget_usd")
	if !ok || budget <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "campaign budget_usd must be positive")
	}

	channel := stringField(task.Payload, "channel")
	if channel == "" {
		channel = defaultChannel
	}
	durationDays := defaultDurationDays
	if d, ok := floatField(task.Payload, "duration_days"); ok && d >= 1 {
		durationDays = int(d)
	}

	startsOn := time.Now().UTC()
	if s := stringField(task.Payload, "start_date"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "start_date %q is not YYYY-MM-DD", s).WithCause(err)
		}
		startsOn = parsed
	}

	dryRun, _ := task.Payload["dry_run"].(bool)
	status := "SCHEDULED"
	if dryRun {
		status = "DRY_RUN"
	}

	daily := math.Round(budget/float64(durationDays)*100) / 100

	return map[string]any{
		"campaign_id":      campaignID(task.ID),
		"name":             name,
		"channel":          channel,
		"budget_usd":       budget,
		"daily_budget_usd": daily,
		"duration_days":    durationDays,
		"starts_on":        startsOn.Format(dateLayout),
		"ends_on":          startsOn.AddDate(0, 0, durationDays).Format(dateLayout),
		"status":           status,
		"dry_run":          dryRun,
	}, nil
}

// campaignID derives a stable campaign id from the task id.
func campaignID(taskID string) string {
	id := strings.ReplaceAll(taskID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "CMP-" + strings.ToUpper(id)
}

func floatField(payload map[string]any, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
