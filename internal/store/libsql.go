package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/lotwise/driveline/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Sandboxes ---

func (s *LibSQLStore) CreateSandbox(ctx context.Context, sb *schema.Sandbox) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sandboxes (id, dealership_id, name, hourly_token_limit, daily_token_limit, daily_cost_limit_micros, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sb.ID, nullStr(sb.DealershipID), sb.Name,
		sb.HourlyTokenLimit, sb.DailyTokenLimit, sb.DailyCostLimitMicros,
		boolInt(sb.IsActive), timeOrNow(sb.CreatedAt), timeOrNow(sb.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSandbox(ctx context.Context, id string) (*schema.Sandbox, error) {
	sb := &schema.Sandbox{}
	var dealership sql.NullString
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, dealership_id, name, hourly_token_limit, daily_token_limit, daily_cost_limit_micros, is_active, created_at, updated_at
		 FROM sandboxes WHERE id = ?`, id,
	).Scan(&sb.ID, &dealership, &sb.Name, &sb.HourlyTokenLimit, &sb.DailyTokenLimit,
		&sb.DailyCostLimitMicros, &active, &sb.CreatedAt, &sb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("sandbox", id)
	}
	if err != nil {
		return nil, err
	}
	sb.DealershipID = dealership.String
	sb.IsActive = active != 0
	return sb, nil
}

func (s *LibSQLStore) UpdateSandboxLimits(ctx context.Context, id string, limits schema.SandboxLimits) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sandboxes SET hourly_token_limit = ?, daily_token_limit = ?, daily_cost_limit_micros = ?, updated_at = ?
		 WHERE id = ?`,
		limits.HourlyTokenLimit, limits.DailyTokenLimit, limits.DailyCostLimitMicros,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "sandbox", id)
}

// DeactivateSandbox soft-deletes a sandbox. The row stays so usage log entries
// keep a valid owner.
func (s *LibSQLStore) DeactivateSandbox(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sandboxes SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "sandbox", id)
}

func (s *LibSQLStore) ListSandboxes(ctx context.Context, activeOnly bool) ([]*schema.Sandbox, error) {
	query := `SELECT id, dealership_id, name, hourly_token_limit, daily_token_limit, daily_cost_limit_micros, is_active, created_at, updated_at
	          FROM sandboxes`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sandboxes []*schema.Sandbox
	for rows.Next() {
		sb := &schema.Sandbox{}
		var dealership sql.NullString
		var active int
		if err := rows.Scan(&sb.ID, &dealership, &sb.Name, &sb.HourlyTokenLimit,
			&sb.DailyTokenLimit, &sb.DailyCostLimitMicros, &active, &sb.CreatedAt, &sb.UpdatedAt); err != nil {
			return nil, err
		}
		sb.DealershipID = dealership.String
		sb.IsActive = active != 0
		sandboxes = append(sandboxes, sb)
	}
	return sandboxes, rows.Err()
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *schema.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, sandbox_id, is_active, created_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.SandboxID, boolInt(sess.IsActive),
		timeOrNow(sess.CreatedAt), timeOrNow(sess.LastActivityAt),
	)
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*schema.Session, error) {
	sess := &schema.Session{}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sandbox_id, is_active, created_at, last_activity_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.SandboxID, &active, &sess.CreatedAt, &sess.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	sess.IsActive = active != 0
	return sess, nil
}

func (s *LibSQLStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ? AND is_active = 1`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) CloseSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0, last_activity_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) ListSessions(ctx context.Context, sandboxID string) ([]*schema.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sandbox_id, is_active, created_at, last_activity_at
		 FROM sessions WHERE sandbox_id = ? ORDER BY created_at`, sandboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*schema.Session
	for rows.Next() {
		sess := &schema.Session{}
		var active int
		if err := rows.Scan(&sess.ID, &sess.SandboxID, &active, &sess.CreatedAt, &sess.LastActivityAt); err != nil {
			return nil, err
		}
		sess.IsActive = active != 0
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Token usage ledger ---

func (s *LibSQLStore) AppendUsage(ctx context.Context, entry *schema.TokenUsageLogEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage_log (sandbox_id, session_id, token_count, cost_micros, operation_type, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SandboxID, nullStr(entry.SessionID), entry.TokenCount, entry.CostMicros,
		entry.OperationType, timeOrNow(entry.Timestamp),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *LibSQLStore) SumTokensSince(ctx context.Context, sandboxID string, since time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(token_count), 0) FROM token_usage_log WHERE sandbox_id = ? AND timestamp >= ?`,
		sandboxID, since,
	).Scan(&sum)
	return sum, err
}

func (s *LibSQLStore) SumCostSince(ctx context.Context, sandboxID string, since time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_micros), 0) FROM token_usage_log WHERE sandbox_id = ? AND timestamp >= ?`,
		sandboxID, since,
	).Scan(&sum)
	return sum, err
}

func (s *LibSQLStore) ListUsage(ctx context.Context, sandboxID string, limit int) ([]*schema.TokenUsageLogEntry, error) {
	query := `SELECT id, sandbox_id, session_id, token_count, cost_micros, operation_type, timestamp
	          FROM token_usage_log WHERE sandbox_id = ? ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, sandboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*schema.TokenUsageLogEntry
	for rows.Next() {
		e := &schema.TokenUsageLogEntry{}
		var sessionID sql.NullString
		if err := rows.Scan(&e.ID, &e.SandboxID, &sessionID, &e.TokenCount, &e.CostMicros,
			&e.OperationType, &e.Timestamp); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Tool settings ---

func (s *LibSQLStore) SetToolEnabled(ctx context.Context, sandboxID, toolName string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sandbox_tool_settings (sandbox_id, tool_name, enabled, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(sandbox_id, tool_name) DO UPDATE SET enabled=excluded.enabled, updated_at=excluded.updated_at`,
		sandboxID, toolName, boolInt(enabled), time.Now().UTC(),
	)
	return err
}

// ToolEnabled reports whether a tool is enabled for a sandbox. Tools with no
// settings row are enabled.
func (s *LibSQLStore) ToolEnabled(ctx context.Context, sandboxID, toolName string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM sandbox_tool_settings WHERE sandbox_id = ? AND tool_name = ?`,
		sandboxID, toolName,
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return enabled != 0, nil
}

func (s *LibSQLStore) ListToolSettings(ctx context.Context, sandboxID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, enabled FROM sandbox_tool_settings WHERE sandbox_id = ?`, sandboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled int
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		settings[name] = enabled != 0
	}
	return settings, rows.Err()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.DrivelineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
