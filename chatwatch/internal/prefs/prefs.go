// Package prefs persists operator preferences (log category toggles) in
// SQLite. Values are read at session start and written only by operator
// toggle actions; a Watcher picks up writes made by other processes.
package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/chatwatch/dbopen"
)

// Schema creates the preference table.
const Schema = `
CREATE TABLE IF NOT EXISTS chatwatch_prefs (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`

// LogKey returns the preference key gating a log category.
func LogKey(category string) string { return "log_" + category }

// Store is a key/value preference store.
type Store struct {
	db *sql.DB
}

// New creates a Store over db and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("prefs: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored values for keys. Missing keys are absent from the
// returned map.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	q := "SELECT key, value FROM chatwatch_prefs WHERE key IN (?" + strings.Repeat(",?", len(keys)-1) + ")"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("prefs: get: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("prefs: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Set upserts values in one transaction.
func (s *Store) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chatwatch_prefs (key, value, updated_at) VALUES (?,?,?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				k, v, now); err != nil {
				return fmt.Errorf("prefs: set %s: %w", k, err)
			}
		}
		return nil
	})
}

// Toggles reads the log category toggles. Categories with no stored value
// are absent; callers treat absent as enabled.
func (s *Store) Toggles(ctx context.Context, categories []string) (map[string]bool, error) {
	keys := make([]string, len(categories))
	for i, c := range categories {
		keys[i] = LogKey(c)
	}
	vals, err := s.Get(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(vals))
	for _, c := range categories {
		v, ok := vals[LogKey(c)]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			continue
		}
		out[c] = b
	}
	return out, nil
}

// SetToggle persists one log category toggle.
func (s *Store) SetToggle(ctx context.Context, category string, enabled bool) error {
	return s.Set(ctx, map[string]string{LogKey(category): strconv.FormatBool(enabled)})
}
