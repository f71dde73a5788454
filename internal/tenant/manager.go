// Package tenant manages sandbox and session lifecycle. A sandbox is the
// quota boundary for one dealership workspace; sessions are the opaque
// tokens clients hold while talking to it.
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/store"
	"github.com/lotwise/driveline/pkg/schema"
)

// Manager layers lifecycle rules and event publication over the store.
type Manager struct {
	store  store.Store
	bus    events.Publisher
	logger *slog.Logger
}

// NewManager wires the tenant manager. bus may be nil for tests that do not
// care about lifecycle events.
func NewManager(s store.Store, bus events.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, bus: bus, logger: logger}
}

// CreateSandbox registers a new sandbox for a dealership. All limits must be
// positive; the sandbox starts active.
func (m *Manager) CreateSandbox(ctx context.Context, dealershipID, name string, limits schema.SandboxLimits) (*schema.Sandbox, error) {
	if strings.TrimSpace(dealershipID) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "dealership id is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sandbox name is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sandbox := &schema.Sandbox{
		ID:                   uuid.NewString(),
		DealershipID:         dealershipID,
		Name:                 name,
		HourlyTokenLimit:     limits.HourlyTokenLimit,
		DailyTokenLimit:      limits.DailyTokenLimit,
		DailyCostLimitMicros: limits.DailyCostLimitMicros,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.store.CreateSandbox(ctx, sandbox); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "sandbox created",
		"sandbox_id", sandbox.ID, "dealership_id", dealershipID, "name", name)
	m.publish(ctx, events.Event{
		Type:      schema.EventSandboxCreated,
		SandboxID: sandbox.ID,
		Payload: map[string]any{
			"dealership_id":           dealershipID,
			"name":                    name,
			"hourly_token_limit":      limits.HourlyTokenLimit,
			"daily_token_limit":       limits.DailyTokenLimit,
			"daily_cost_limit_micros": limits.DailyCostLimitMicros,
		},
	})
	return sandbox, nil
}

// GetSandbox returns an active sandbox. Missing and deactivated sandboxes are
// indistinguishable to callers.
func (m *Manager) GetSandbox(ctx context.Context, id string) (*schema.Sandbox, error) {
	sandbox, err := m.store.GetSandbox(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, schema.NewSandboxNotFound(id)
		}
		return nil, err
	}
	if !sandbox.IsActive {
		return nil, schema.NewSandboxNotFound(id)
	}
	return sandbox, nil
}

// UpdateLimits replaces the sandbox quota limits.
func (m *Manager) UpdateLimits(ctx context.Context, id string, limits schema.SandboxLimits) (*schema.Sandbox, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.GetSandbox(ctx, id); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSandboxLimits(ctx, id, limits); err != nil {
		if isNotFound(err) {
			return nil, schema.NewSandboxNotFound(id)
		}
		return nil, err
	}
	m.logger.InfoContext(ctx, "sandbox limits updated", "sandbox_id", id)
	return m.GetSandbox(ctx, id)
}

// DeactivateSandbox soft-deletes a sandbox. Its usage history is retained;
// sandboxes are never hard-deleted.
func (m *Manager) DeactivateSandbox(ctx context.Context, id string) error {
	if _, err := m.GetSandbox(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeactivateSandbox(ctx, id); err != nil {
		if isNotFound(err) {
			return schema.NewSandboxNotFound(id)
		}
		return err
	}
	m.logger.InfoContext(ctx, "sandbox deactivated", "sandbox_id", id)
	return nil
}

// ListSandboxes returns sandboxes, optionally only active ones.
func (m *Manager) ListSandboxes(ctx context.Context, activeOnly bool) ([]*schema.Sandbox, error) {
	return m.store.ListSandboxes(ctx, activeOnly)
}

// CreateSession opens a session bound to an active sandbox and returns the
// opaque token clients present on every call.
func (m *Manager) CreateSession(ctx context.Context, sandboxID string) (*schema.Session, error) {
	sandbox, err := m.GetSandbox(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &schema.Session{
		ID:             uuid.NewString(),
		SandboxID:      sandbox.ID,
		IsActive:       true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "session created",
		"session_id", session.ID, "sandbox_id", sandbox.ID)
	m.publish(ctx, events.Event{
		Type:      schema.EventSessionCreated,
		SandboxID: sandbox.ID,
		SessionID: session.ID,
	})
	return session, nil
}

// GetSession resolves a session token. Closed and unknown tokens look the
// same to callers.
func (m *Manager) GetSession(ctx context.Context, token string) (*schema.Session, error) {
	session, err := m.store.GetSession(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return nil, schema.NewSessionNotFound(token)
		}
		return nil, err
	}
	if !session.IsActive {
		return nil, schema.NewSessionNotFound(token)
	}
	return session, nil
}

// Resolve validates a session token and loads its sandbox in one step. This
// is the authorization entry point for every tool execution.
func (m *Manager) Resolve(ctx context.Context, token string) (*schema.Sandbox, *schema.Session, error) {
	session, err := m.GetSession(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	sandbox, err := m.GetSandbox(ctx, session.SandboxID)
	if err != nil {
		return nil, nil, err
	}
	return sandbox, session, nil
}

// TouchSession advances the session's last activity timestamp.
func (m *Manager) TouchSession(ctx context.Context, token string) error {
	if err := m.store.TouchSession(ctx, token); err != nil {
		if isNotFound(err) {
			return schema.NewSessionNotFound(token)
		}
		return err
	}
	return nil
}

// CloseSession ends a session. Closing an already closed session is an error.
func (m *Manager) CloseSession(ctx context.Context, token string) error {
	if _, err := m.GetSession(ctx, token); err != nil {
		return err
	}
	if err := m.store.CloseSession(ctx, token); err != nil {
		if isNotFound(err) {
			return schema.NewSessionNotFound(token)
		}
		return err
	}
	m.logger.InfoContext(ctx, "session closed", "session_id", token)
	return nil
}

// ListSessions returns all sessions of a sandbox, open and closed.
func (m *Manager) ListSessions(ctx context.Context, sandboxID string) ([]*schema.Session, error) {
	if _, err := m.GetSandbox(ctx, sandboxID); err != nil {
		return nil, err
	}
	return m.store.ListSessions(ctx, sandboxID)
}

// SetToolEnabled flips per-sandbox tool availability.
func (m *Manager) SetToolEnabled(ctx context.Context, sandboxID, toolName string, enabled bool) error {
	if _, err := m.GetSandbox(ctx, sandboxID); err != nil {
		return err
	}
	if err := m.store.SetToolEnabled(ctx, sandboxID, toolName, enabled); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "tool setting changed",
		"sandbox_id", sandboxID, "tool", toolName, "enabled", enabled)
	return nil
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "lifecycle event publish failed",
			"type", event.Type, "error", err)
	}
}

func isNotFound(err error) bool {
	var dlErr *schema.DrivelineError
	return errors.As(err, &dlErr) && dlErr.Code == schema.ErrCodeNotFound
}
