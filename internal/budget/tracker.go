// Package budget enforces per-sandbox token and cost quotas. Usage is
// recomputed from the append-only ledger over trailing windows, a
// sliding-window approximation rather than fixed buckets.
package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/lotwise/driveline/internal/store"
	"github.com/lotwise/driveline/pkg/schema"
)

// Window names reported in rate-limit denials.
const (
	WindowHourly    = "hourly"
	WindowDaily     = "daily"
	WindowDailyCost = "daily_cost"
)

const (
	hourlyWindow = time.Hour
	dailyWindow  = 24 * time.Hour
)

// UsageCounter receives recorded usage, usually backed by Prometheus.
type UsageCounter interface {
	RecordUsage(tokens, costMicros int64)
	RecordRateLimitDenial(window string)
}

// Tracker authorizes work against sandbox quotas and records consumption.
//
// Authorization is check-then-act over two statements: concurrent callers can
// both pass the check and land usage that overshoots the limit. Enforcement
// is best-effort, bounded by one in-flight estimate per racing caller.
type Tracker struct {
	store   store.Store
	counter UsageCounter
	logger  *slog.Logger
}

// NewTracker wires the tracker. counter may be nil.
func NewTracker(s store.Store, counter UsageCounter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, counter: counter, logger: logger}
}

// Authorize checks the sandbox's trailing windows against its limits and
// returns a RATE_LIMIT_EXCEEDED error naming the first window that the
// estimated work would overflow. Windows are checked in order: hourly
// tokens, daily tokens, daily cost.
func (t *Tracker) Authorize(ctx context.Context, sandbox *schema.Sandbox, estimatedTokens, estimatedCostMicros int64) error {
	if estimatedTokens < 0 || estimatedCostMicros < 0 {
		return schema.NewError(schema.ErrCodeValidation, "estimates must be non-negative")
	}
	now := time.Now().UTC()

	hourlyUsed, err := t.store.SumTokensSince(ctx, sandbox.ID, now.Add(-hourlyWindow))
	if err != nil {
		return err
	}
	if hourlyUsed+estimatedTokens > sandbox.HourlyTokenLimit {
		return t.deny(ctx, sandbox, WindowHourly, sandbox.HourlyTokenLimit, hourlyUsed, estimatedTokens)
	}

	dailyUsed, err := t.store.SumTokensSince(ctx, sandbox.ID, now.Add(-dailyWindow))
	if err != nil {
		return err
	}
	if dailyUsed+estimatedTokens > sandbox.DailyTokenLimit {
		return t.deny(ctx, sandbox, WindowDaily, sandbox.DailyTokenLimit, dailyUsed, estimatedTokens)
	}

	costUsed, err := t.store.SumCostSince(ctx, sandbox.ID, now.Add(-dailyWindow))
	if err != nil {
		return err
	}
	if costUsed+estimatedCostMicros > sandbox.DailyCostLimitMicros {
		return t.deny(ctx, sandbox, WindowDailyCost, sandbox.DailyCostLimitMicros, costUsed, estimatedCostMicros)
	}

	return nil
}

func (t *Tracker) deny(ctx context.Context, sandbox *schema.Sandbox, window string, limit, used, estimate int64) error {
	t.logger.WarnContext(ctx, "budget authorization denied",
		"sandbox_id", sandbox.ID, "window", window,
		"limit", limit, "used", used, "estimate", estimate)
	if t.counter != nil {
		t.counter.RecordRateLimitDenial(window)
	}
	return schema.NewRateLimitExceeded(window, limit, used)
}

// Record appends actual consumption to the ledger and touches the session so
// its lastActivityAt tracks real work. Entries are never updated or deleted.
func (t *Tracker) Record(ctx context.Context, sandboxID, sessionID string, tokens, costMicros int64, operationType string) error {
	if tokens < 0 || costMicros < 0 {
		return schema.NewError(schema.ErrCodeValidation, "usage must be non-negative")
	}
	entry := &schema.TokenUsageLogEntry{
		SandboxID:     sandboxID,
		SessionID:     sessionID,
		TokenCount:    tokens,
		CostMicros:    costMicros,
		OperationType: operationType,
		Timestamp:     time.Now().UTC(),
	}
	if err := t.store.AppendUsage(ctx, entry); err != nil {
		return err
	}
	if sessionID != "" {
		if err := t.store.TouchSession(ctx, sessionID); err != nil {
			t.logger.WarnContext(ctx, "session touch failed after usage record",
				"session_id", sessionID, "error", err)
		}
	}
	if t.counter != nil {
		t.counter.RecordUsage(tokens, costMicros)
	}
	return nil
}

// Snapshot reports current window usage for a sandbox, for status surfaces.
type Snapshot struct {
	HourlyTokensUsed int64 `json:"hourly_tokens_used"`
	HourlyTokenLimit int64 `json:"hourly_token_limit"`
	DailyTokensUsed  int64 `json:"daily_tokens_used"`
	DailyTokenLimit  int64 `json:"daily_token_limit"`
	DailyCostMicros  int64 `json:"daily_cost_micros"`
	DailyCostLimit   int64 `json:"daily_cost_limit_micros"`
}

// Usage computes the sandbox's current window consumption.
func (t *Tracker) Usage(ctx context.Context, sandbox *schema.Sandbox) (*Snapshot, error) {
	now := time.Now().UTC()

	hourly, err := t.store.SumTokensSince(ctx, sandbox.ID, now.Add(-hourlyWindow))
	if err != nil {
		return nil, err
	}
	daily, err := t.store.SumTokensSince(ctx, sandbox.ID, now.Add(-dailyWindow))
	if err != nil {
		return nil, err
	}
	cost, err := t.store.SumCostSince(ctx, sandbox.ID, now.Add(-dailyWindow))
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		HourlyTokensUsed: hourly,
		HourlyTokenLimit: sandbox.HourlyTokenLimit,
		DailyTokensUsed:  daily,
		DailyTokenLimit:  sandbox.DailyTokenLimit,
		DailyCostMicros:  cost,
		DailyCostLimit:   sandbox.DailyCostLimitMicros,
	}, nil
}
