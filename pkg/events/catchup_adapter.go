package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CatchupEvent holds a row from the durable event_triggers log.
type CatchupEvent struct {
	ID      int64
	Payload TriggerPayload
}

// CatchupStore reads missed event triggers after a restart or reconnect,
// using the same channel name a NotifyListener/Manager subscriber would
// have been listening on.
type CatchupStore struct {
	db *sql.DB
}

// NewCatchupStore creates a CatchupStore. db should be the *sql.DB
// underlying a database.Client.
func NewCatchupStore(db *sql.DB) *CatchupStore {
	return &CatchupStore{db: db}
}

// Since returns event triggers on channel with id > sinceID, oldest
// first, capped at limit rows.
func (s *CatchupStore) Since(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM event_triggers WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event trigger catchup: %w", err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event trigger row: %w", err)
		}
		var payload TriggerPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event trigger payload: %w", err)
		}
		out = append(out, CatchupEvent{ID: id, Payload: payload})
	}
	return out, rows.Err()
}
