package store

import (
	"context"
	"time"

	"github.com/lotwise/driveline/pkg/schema"
)

// Store is the persistence boundary for tenant state: sandboxes, sessions,
// the append-only token usage ledger, per-sandbox tool settings, and encrypted
// secrets. Workflows and replay logs are deliberately not persisted; they are
// in-memory, bounded state owned by the engine.
type Store interface {
	// Sandboxes.
	CreateSandbox(ctx context.Context, sb *schema.Sandbox) error
	GetSandbox(ctx context.Context, id string) (*schema.Sandbox, error)
	UpdateSandboxLimits(ctx context.Context, id string, limits schema.SandboxLimits) error
	DeactivateSandbox(ctx context.Context, id string) error
	ListSandboxes(ctx context.Context, activeOnly bool) ([]*schema.Sandbox, error)

	// Sessions.
	CreateSession(ctx context.Context, sess *schema.Session) error
	GetSession(ctx context.Context, id string) (*schema.Session, error)
	TouchSession(ctx context.Context, id string) error
	CloseSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, sandboxID string) ([]*schema.Session, error)

	// Token usage ledger. Append-only: entries are never updated or deleted.
	AppendUsage(ctx context.Context, entry *schema.TokenUsageLogEntry) error
	SumTokensSince(ctx context.Context, sandboxID string, since time.Time) (int64, error)
	SumCostSince(ctx context.Context, sandboxID string, since time.Time) (int64, error)
	ListUsage(ctx context.Context, sandboxID string, limit int) ([]*schema.TokenUsageLogEntry, error)

	// Per-sandbox tool enablement. Absent rows mean enabled.
	SetToolEnabled(ctx context.Context, sandboxID, toolName string, enabled bool) error
	ToolEnabled(ctx context.Context, sandboxID, toolName string) (bool, error)
	ListToolSettings(ctx context.Context, sandboxID string) (map[string]bool, error)

	// Encrypted secrets (ciphertext in, ciphertext out).
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	Close() error
}
