// Package state provides a transactional key/value facade over Postgres,
// used by the scheduler, filing poller, review queue, and chat transport
// to persist small pieces of durable state without owning a bespoke table
// each.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Well-known namespaces, matching the set named in the config surface.
const (
	NamespaceSchedulerLastRun     = "scheduler.last_run"
	NamespaceSchedulerLastSuccess = "scheduler.last_success"
	NamespaceFilingSeen           = "filing.seen"
	NamespaceFilingCursor         = "filing.cursor"
	NamespaceHealth               = "health"
	NamespaceQueueActive          = "queue.active"
	NamespaceQueueItems           = "queue.items"
	NamespaceLearning             = "learning"
	NamespaceSECMonitorErrorCount = "sec_monitor.error_count"
	NamespaceChatLastUpdateID     = "chat.last_update_id"
	NamespaceLLMCallCount         = "llm.call_count"
	NamespaceAlertDedup           = "alert.dedup"
	NamespaceDealSignalSeen       = "dealsignal.seen"
	NamespaceDealSignalCursor     = "dealsignal.cursor"
)

// ErrNotFound is returned by Get when no value exists for the given key.
var ErrNotFound = errors.New("state: key not found")

// ErrConflict is returned by CompareAndSet when the stored value does not
// match the expected value.
var ErrConflict = errors.New("state: compare-and-set conflict")

// Store is a transactional key/value facade backed by Postgres.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open database connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Get reads the raw JSON value stored at (namespace, key).
func (s *Store) Get(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.db.GetContext(ctx, &raw,
		`SELECT value FROM kv_store WHERE namespace = $1 AND key = $2`, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: get %s/%s: %w", namespace, key, err)
	}
	return raw, nil
}

// Put upserts a value at (namespace, key).
func (s *Store) Put(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: marshal value for %s/%s: %w", namespace, key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, raw)
	if err != nil {
		return fmt.Errorf("state: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// CompareAndSet atomically replaces the value at (namespace, key) with
// newValue only if the currently stored value JSON-equals expected.
// If the key doesn't exist, expected must be nil for the set to succeed.
func (s *Store) CompareAndSet(ctx context.Context, namespace, key string, expected, newValue any) error {
	expectedRaw, err := json.Marshal(expected)
	if err != nil {
		return fmt.Errorf("state: marshal expected value for %s/%s: %w", namespace, key, err)
	}
	newRaw, err := json.Marshal(newValue)
	if err != nil {
		return fmt.Errorf("state: marshal new value for %s/%s: %w", namespace, key, err)
	}

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var current json.RawMessage
		err := tx.GetContext(ctx, &current, `SELECT value FROM kv_store WHERE namespace = $1 AND key = $2 FOR UPDATE`, namespace, key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if string(expectedRaw) != "null" {
				return ErrConflict
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv_store (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())`,
				namespace, key, newRaw)
			return err
		case err != nil:
			return fmt.Errorf("state: compare-and-set read %s/%s: %w", namespace, key, err)
		}

		if !jsonEqual(current, expectedRaw) {
			return ErrConflict
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE kv_store SET value = $3, updated_at = now() WHERE namespace = $1 AND key = $2`,
			namespace, key, newRaw)
		return err
	})
}

// AppendBounded appends value to the bounded list at (namespace, key),
// trimming the oldest entries once the list exceeds maxLen.
func (s *Store) AppendBounded(ctx context.Context, namespace, key string, value any, maxLen int) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: marshal bounded list value for %s/%s: %w", namespace, key, err)
	}

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var items []json.RawMessage
		err := tx.GetContext(ctx, &rawItemsScanner{&items}, `SELECT items FROM bounded_lists WHERE namespace = $1 AND key = $2 FOR UPDATE`, namespace, key)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("state: append bounded read %s/%s: %w", namespace, key, err)
		}

		items = append(items, raw)
		if len(items) > maxLen {
			items = items[len(items)-maxLen:]
		}
		encoded, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("state: marshal bounded list %s/%s: %w", namespace, key, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bounded_lists (namespace, key, items, max_size, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (namespace, key) DO UPDATE SET items = EXCLUDED.items, max_size = EXCLUDED.max_size, updated_at = now()`,
			namespace, key, encoded, maxLen)
		return err
	})
}

// BoundedList returns the current contents of the bounded list at (namespace, key).
func (s *Store) BoundedList(ctx context.Context, namespace, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := s.db.GetContext(ctx, &rawItemsScanner{&items}, `SELECT items FROM bounded_lists WHERE namespace = $1 AND key = $2`, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: bounded list %s/%s: %w", namespace, key, err)
	}
	return items, nil
}

// RangeScan returns every key/value pair in namespace whose key has the given prefix.
func (s *Store) RangeScan(ctx context.Context, namespace, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT key, value FROM kv_store WHERE namespace = $1 AND key LIKE $2 ORDER BY key`,
		namespace, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("state: range scan %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value json.RawMessage
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("state: range scan scan row: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}

// rawItemsScanner adapts a *[]json.RawMessage target so sqlx.Get can scan a
// single jsonb array column directly into it.
type rawItemsScanner struct {
	dest *[]json.RawMessage
}

func (r rawItemsScanner) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("state: unsupported scan source %T", src)
	}
	return json.Unmarshal(raw, r.dest)
}
