package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// allowedFields maps the field names Mutate accepts to the tracked_entities
// column they write. Restricting to a known set keeps the dynamic column
// name in the UPDATE statement safe from injection.
var allowedFields = map[string]string{
	"cik":                       "cik",
	"issued_to":                 "issued_to",
	"name":                      "name",
	"status":                    "status",
	"ipo_date":                  "ipo_date",
	"announced_date":            "announced_date",
	"vote_date":                 "vote_date",
	"extension_deadline":        "extension_deadline",
	"completion_date":           "completion_date",
	"delisted_date":             "delisted_date",
	"trust_per_share":           "trust_per_share",
	"trust_cash_total":          "trust_cash_total",
	"shares_outstanding":        "shares_outstanding",
	"last_price":                "last_price",
	"premium_pct":               "premium_pct",
	"deal_counterparty":         "deal_counterparty",
	"deal_announced_at":         "deal_announced_at",
	"is_liquidating":            "is_liquidating",
	"accelerated_polling_until": "accelerated_polling_until",
}

// Store is the Postgres-backed Repository implementation.
type Store struct {
	db  *sqlx.DB
	log *slog.Logger
}

// New creates a Store over an open database connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, log: slog.With("component", "entity.store")}
}

var _ Repository = (*Store)(nil)

func (s *Store) ByTicker(ctx context.Context, ticker string) (*Entity, error) {
	var e Entity
	err := s.db.GetContext(ctx, &e, `SELECT * FROM tracked_entities WHERE ticker = $1`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entity: by ticker %s: %w", ticker, err)
	}
	return &e, nil
}

func (s *Store) ByCIK(ctx context.Context, cik string) (*Entity, error) {
	var e Entity
	err := s.db.GetContext(ctx, &e, `SELECT * FROM tracked_entities WHERE cik = $1`, cik)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entity: by cik %s: %w", cik, err)
	}
	return &e, nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]*Entity, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM tracked_entities WHERE status IN (?) ORDER BY ticker`, statuses)
	if err != nil {
		return nil, fmt.Errorf("entity: build list-by-status query: %w", err)
	}
	query = s.db.Rebind(query)

	var entities []*Entity
	if err := s.db.SelectContext(ctx, &entities, query, args...); err != nil {
		return nil, fmt.Errorf("entity: list by status: %w", err)
	}
	return entities, nil
}

// ListWhere scans every tracked entity and returns those matching predicate.
// Used for conditions (deadline windows, cross-field comparisons) that don't
// map cleanly onto SQL; the tracked-entity set is small enough that an
// in-process scan is the simpler and more faithful option.
func (s *Store) ListWhere(ctx context.Context, predicate Predicate) ([]*Entity, error) {
	var all []*Entity
	if err := s.db.SelectContext(ctx, &all, `SELECT * FROM tracked_entities ORDER BY ticker`); err != nil {
		return nil, fmt.Errorf("entity: list where: %w", err)
	}

	var matched []*Entity
	for _, e := range all {
		if predicate(e) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (s *Store) Create(ctx context.Context, e *Entity) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tracked_entities (ticker, cik, issued_to, name, status, ipo_date)
		VALUES (:ticker, :cik, :issued_to, :name, :status, :ipo_date)`, e)
	if err != nil {
		return fmt.Errorf("entity: create %s: %w", e.Ticker, err)
	}
	return nil
}

// Mutate writes a single field on the tracked entity identified by ticker,
// then best-effort records an entity_audit row. The audit write never
// blocks or fails the primary mutation; a failure there is logged only.
//
// An advisory lock keyed on the ticker (pg_advisory_xact_lock(hashtext))
// is taken inside the mutating transaction, serializing concurrent field
// writes to the same entity from different agents without locking the
// whole table.
func (s *Store) Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType ChangeType) error {
	column, ok := allowedFields[field]
	if !ok {
		return fmt.Errorf("entity: mutate %s: unknown field %q", ticker, field)
	}

	var oldRaw []byte
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticker); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var old sql.NullString
		q := fmt.Sprintf(`SELECT to_jsonb(%s) FROM tracked_entities WHERE ticker = $1 FOR UPDATE`, column)
		if err := tx.GetContext(ctx, &old, q, ticker); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read current value: %w", err)
		}
		if old.Valid {
			oldRaw = []byte(old.String)
		}

		update := fmt.Sprintf(`UPDATE tracked_entities SET %s = $1, updated_at = now() WHERE ticker = $2`, column)
		if _, err := tx.ExecContext(ctx, update, newValue, ticker); err != nil {
			return fmt.Errorf("update %s: %w", column, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("entity: mutate %s.%s: %w", ticker, field, err)
	}

	newRaw, marshalErr := json.Marshal(newValue)
	if marshalErr != nil {
		newRaw = nil
	}
	s.recordAudit(ticker, field, oldRaw, newRaw, source, filingRef, changeType)
	return nil
}

func (s *Store) recordAudit(ticker, field string, oldValue, newValue []byte, source, filingRef string, changeType ChangeType) {
	var filingRefArg any
	if filingRef != "" {
		filingRefArg = filingRef
	}
	_, err := s.db.Exec(`
		INSERT INTO entity_audit (ticker, field, old_value, new_value, source, filing_ref, change_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ticker, field, nullableJSON(oldValue), nullableJSON(newValue), source, filingRefArg, string(changeType))
	if err != nil {
		s.log.Error("failed to record audit row", "ticker", ticker, "field", field, "error", err)
	}
}

// PurgeAuditOlderThan deletes entity_audit rows older than olderThanDays,
// satisfying pkg/cleanup.AuditStore.
func (s *Store) PurgeAuditOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_audit WHERE created_at < now() - ($1 || ' days')::interval`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("entity: purge audit rows: %w", err)
	}
	return res.RowsAffected()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
