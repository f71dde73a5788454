package schema

import "time"

// Sandbox is a tenant-scoped execution context. It is a quota and permission
// boundary only, not an OS-level sandbox. Sandboxes are deactivated, never
// hard-deleted, so usage log rows always resolve to their owner.
type Sandbox struct {
	ID                   string    `json:"id"`
	DealershipID         string    `json:"dealership_id,omitempty"`
	Name                 string    `json:"name"`
	HourlyTokenLimit     int64     `json:"hourly_token_limit"`
	DailyTokenLimit      int64     `json:"daily_token_limit"`
	DailyCostLimitMicros int64     `json:"daily_cost_limit_micros"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// SandboxLimits carries the quota configuration for sandbox creation and
// updates. All limits must be positive.
type SandboxLimits struct {
	HourlyTokenLimit     int64 `json:"hourly_token_limit"`
	DailyTokenLimit      int64 `json:"daily_token_limit"`
	DailyCostLimitMicros int64 `json:"daily_cost_limit_micros"`
}

// Validate checks that all limits are positive integers.
func (l SandboxLimits) Validate() error {
	if l.HourlyTokenLimit <= 0 {
		return NewError(ErrCodeValidation, "hourly token limit must be positive")
	}
	if l.DailyTokenLimit <= 0 {
		return NewError(ErrCodeValidation, "daily token limit must be positive")
	}
	if l.DailyCostLimitMicros <= 0 {
		return NewError(ErrCodeValidation, "daily cost limit must be positive")
	}
	return nil
}

// Session is a live client connection scoped to exactly one sandbox. The ID
// doubles as the opaque session token. Sessions close independently of their
// sandbox.
type Session struct {
	ID             string    `json:"id"`
	SandboxID      string    `json:"sandbox_id"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TokenUsageLogEntry is one immutable row of the append-only usage ledger.
// Budget windows are computed by summing TokenCount and CostMicros over a
// trailing interval, never by mutating a counter.
type TokenUsageLogEntry struct {
	ID            int64     `json:"id"`
	SandboxID     string    `json:"sandbox_id"`
	SessionID     string    `json:"session_id,omitempty"`
	TokenCount    int64     `json:"token_count"`
	CostMicros    int64     `json:"cost_micros"`
	OperationType string    `json:"operation_type"`
	Timestamp     time.Time `json:"timestamp"`
}
