// Package configstore persists per-scope configuration values in SQLite.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// DefaultMaxValueBytes is the largest value SetConfig accepts.
const DefaultMaxValueBytes = 256 << 10 // 256 KiB

// Store keeps per-scope configuration values in SQLite.
type Store struct {
	db            *sql.DB
	maxValueBytes int
}

// New returns a Store over db, which must carry the storage.BootstrapSQLite schema.
func New(db *sql.DB) *Store {
	return &Store{
		db:            db,
		maxValueBytes: DefaultMaxValueBytes,
	}
}

// GetConfig returns the value stored for key at scope. found is false when
// nothing is configured.
func (s *Store) GetConfig(ctx context.Context, scope audit.Scope, key string) (json.RawMessage, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("config key is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM scope_config WHERE scope = ? AND key = ?;", scope.Key(), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read config %s/%s: %w", scope, key, err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("stored config is invalid JSON for %s/%s", scope, key)
	}
	return json.RawMessage(raw), true, nil
}

// SetConfig upserts a JSON value for key at scope.
func (s *Store) SetConfig(ctx context.Context, scope audit.Scope, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("config key is empty")
	}
	if !json.Valid(value) {
		return fmt.Errorf("config value for %s/%s is not valid JSON", scope, key)
	}
	if len(value) > s.maxValueBytes {
		return fmt.Errorf("config value exceeds max size (%d bytes)", s.maxValueBytes)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scope_config(scope, key, value, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(scope, key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, scope.Key(), key, string(value), now)
	if err != nil {
		return fmt.Errorf("upsert config %s/%s: %w", scope, key, err)
	}
	return nil
}

// DeleteConfig removes key at scope. Deleting a missing key is not an error.
func (s *Store) DeleteConfig(ctx context.Context, scope audit.Scope, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM scope_config WHERE scope = ? AND key = ?;", scope.Key(), key); err != nil {
		return fmt.Errorf("delete config %s/%s: %w", scope, key, err)
	}
	return nil
}

// ListScopes returns every scope that has a value for key, ordered by scope key.
func (s *Store) ListScopes(ctx context.Context, key string) ([]audit.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT scope FROM scope_config WHERE key = ? ORDER BY scope;", key)
	if err != nil {
		return nil, fmt.Errorf("list scopes for %s: %w", key, err)
	}
	defer rows.Close()

	var out []audit.Scope
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scope, ok := audit.ParseScope(k)
		if !ok {
			continue
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}
