// Package store provides the optional persisted mirror described in
// spec §6: a keyed-record node registry snapshot and a tool-invocation
// history table. Absence of the store is a supported degraded mode —
// callers that skip Open simply keep everything in memory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skeletoncrew/nodecraft/internal/config"
)

// NodeRecord is one row of the persisted node table, written by
// UpsertNode and read back by ListNodes. The runtime calls neither:
// discovery's node registry is not written to this table, and nothing
// rehydrates known peers from it at start.
type NodeRecord struct {
	ID       string
	Name     string
	Host     string
	Roles    []string
	Tags     map[string]string
	LastSeen time.Time
}

// ToolInvocation is one row of the tool-registry audit trail.
type ToolInvocation struct {
	ID           int64
	InvocationID string
	ToolName     string
	CallerID     string
	ArgsJSON     []byte
	ResultJSON   []byte
	ErrorKind    string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Store wraps a SQLite-backed persistence layer. The zero-value-like
// "ephemeral" configuration skips the database entirely, matching the
// store.retention_mode=ephemeral degraded mode.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. RetentionMode
// "ephemeral" returns a Store with no backing database; every method
// becomes a no-op.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS nodes (
    node_id TEXT PRIMARY KEY,
    name TEXT,
    host TEXT,
    roles TEXT,
    tags TEXT,
    last_seen TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_invocations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    caller_id TEXT,
    args_json BLOB,
    result_json BLOB,
    error_kind TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_invocations_tool_started ON tool_invocations(tool_name, started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertNode writes or refreshes a node's persisted mirror row.
func (s *Store) UpsertNode(ctx context.Context, n NodeRecord) error {
	if s.db == nil {
		return nil
	}
	if n.LastSeen.IsZero() {
		n.LastSeen = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes(node_id, name, host, roles, tags, last_seen)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
		   name=excluded.name, host=excluded.host, roles=excluded.roles,
		   tags=excluded.tags, last_seen=excluded.last_seen`,
		n.ID, n.Name, n.Host, joinRoles(n.Roles), marshalTags(n.Tags), n.LastSeen)
	return err
}

// ListNodes returns every persisted node row, most recently seen first.
func (s *Store) ListNodes(ctx context.Context) ([]NodeRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, name, host, roles, tags, last_seen FROM nodes ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []NodeRecord
	for rows.Next() {
		var n NodeRecord
		var roles, tags string
		if err := rows.Scan(&n.ID, &n.Name, &n.Host, &roles, &tags, &n.LastSeen); err != nil {
			return nil, err
		}
		n.Roles = splitRoles(roles)
		n.Tags = unmarshalTags(tags)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// AppendInvocation writes one tool-invocation audit row. The invocation
// carries both its start and finish so parameter validation, handler
// execution, and audit recording land as one observational unit.
func (s *Store) AppendInvocation(ctx context.Context, inv ToolInvocation) error {
	if s.db == nil {
		return nil
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations(invocation_id, tool_name, caller_id, args_json, result_json, error_kind, started_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvocationID, inv.ToolName, inv.CallerID, inv.ArgsJSON, inv.ResultJSON, inv.ErrorKind, inv.StartedAt, inv.FinishedAt)
	return err
}

// History returns up to limit most recent invocations, optionally
// filtered to a single tool name.
func (s *Store) History(ctx context.Context, toolName string, limit int) ([]ToolInvocation, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, invocation_id, tool_name, caller_id, args_json, result_json, error_kind, started_at, finished_at
	          FROM tool_invocations`
	args := []any{}
	if toolName != "" {
		query += ` WHERE tool_name = ?`
		args = append(args, toolName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []ToolInvocation
	for rows.Next() {
		var inv ToolInvocation
		var finished sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.InvocationID, &inv.ToolName, &inv.CallerID,
			&inv.ArgsJSON, &inv.ResultJSON, &inv.ErrorKind, &inv.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			inv.FinishedAt = finished.Time
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// Prune applies configured retention. Called on startup and safe to call
// on a schedule.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM tool_invocations WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM nodes WHERE last_seen < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxInvocations > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM tool_invocations WHERE id IN (
			SELECT id FROM tool_invocations ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxInvocations)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
