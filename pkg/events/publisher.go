package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Publisher persists event triggers to the durable log and broadcasts
// them via pg_notify within the same transaction, so a NOTIFY never
// fires for a row that failed to commit.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher. db should be the *sql.DB underlying
// a database.Client.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishTrigger persists and broadcasts an event.trigger notification,
// both on the ticker-scoped channel and the global TriggersChannel.
func (p *Publisher) PublishTrigger(ctx context.Context, ticker string, payload TriggerPayload) error {
	payload.Type = EventTypeTrigger
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TriggerPayload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO event_triggers (channel, ticker, kind, payload) VALUES ($1, $2, $3, $4) RETURNING id`,
		TriggersChannel, ticker, payload.Kind, payloadJSON,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to persist event trigger: %w", err)
	}

	payload.DBEventID = &id
	enriched, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal enriched TriggerPayload: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", TriggersChannel, enriched); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", EntityTriggerChannel(ticker), enriched); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event trigger transaction: %w", err)
	}
	return nil
}
