package agentreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/medxprts/spacmon/pkg/alert"
	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/httpclient"
	"github.com/medxprts/spacmon/pkg/state"
)

// postgresUniqueViolation is Postgres's SQLSTATE for a unique-constraint
// violation, used to recognize a duplicate filing_events.accession_number.
const postgresUniqueViolation = "23505"

// PostgresFilingLogger inserts into filing_events, the authoritative filing
// log. The poller never writes here; only the dispatcher does.
type PostgresFilingLogger struct {
	db *sqlx.DB
}

// NewPostgresFilingLogger creates a PostgresFilingLogger.
func NewPostgresFilingLogger(db *sqlx.DB) *PostgresFilingLogger {
	return &PostgresFilingLogger{db: db}
}

// Log inserts f into filing_events. A unique-violation on accession_number
// is translated to ErrDuplicateFiling so callers treat a retried poll the
// same as a fresh success.
func (l *PostgresFilingLogger) Log(ctx context.Context, f Filing) error {
	classification, err := json.Marshal(f.Classification)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO filing_events
			(ticker, cik, accession_number, filing_type, item_number, filed_at, classification, priority, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		f.Event.Ticker, f.Event.CIK, f.Event.Entry.AccessionNo, f.Event.Entry.FilingType,
		nullIfEmpty(f.Event.Entry.ItemNumber), f.Event.Entry.FiledAt, classification, f.Classification.Priority)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
			return ErrDuplicateFiling
		}
		return err
	}
	return nil
}

// PurgeFilingEventsOlderThan deletes filing_events rows older than
// olderThanDays, satisfying pkg/cleanup.FilingEventStore.
func (l *PostgresFilingLogger) PurgeFilingEventsOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM filing_events WHERE filed_at < now() - ($1 || ' days')::interval`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("agentreg: purge filing events: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StateSeenMarker marks filings seen via the bounded filing.seen list in
// the generic state store — the same namespace the poller reads from but,
// per the exactly-once contract, never writes to itself.
type StateSeenMarker struct {
	store         *state.Store
	maxSeenPerKey int
}

// NewStateSeenMarker creates a StateSeenMarker. maxSeenPerKey bounds how
// many recent filing ids are retained per ticker.
func NewStateSeenMarker(store *state.Store, maxSeenPerKey int) *StateSeenMarker {
	return &StateSeenMarker{store: store, maxSeenPerKey: maxSeenPerKey}
}

// MarkSeen appends filingID to the ticker's filing.seen bounded list.
func (m *StateSeenMarker) MarkSeen(ctx context.Context, ticker, filingID string) error {
	raw, err := json.Marshal(filingID)
	if err != nil {
		return err
	}
	return m.store.AppendBounded(ctx, state.NamespaceFilingSeen, ticker, raw, m.maxSeenPerKey)
}

// EntityResearch adapts the entity repository into the narrow ResearchPort
// agents depend on, plus direct HTTP fetches for opportunistic exhibit
// reads. It also exposes Mutate directly so concrete filing agents in
// pkg/agents can type-assert for write access without agentreg importing
// them.
type EntityResearch struct {
	repo entity.Repository
	http *httpclient.Client
}

// NewEntityResearch creates an EntityResearch adapter.
func NewEntityResearch(repo entity.Repository, httpClient *httpclient.Client) *EntityResearch {
	return &EntityResearch{repo: repo, http: httpClient}
}

// ByTicker looks up a tracked entity.
func (r *EntityResearch) ByTicker(ctx context.Context, ticker string) (*entity.Entity, error) {
	return r.repo.ByTicker(ctx, ticker)
}

// Fetch retrieves a document via the rate-limited HTTP client.
func (r *EntityResearch) Fetch(ctx context.Context, url string) ([]byte, error) {
	return r.http.Fetch(ctx, url)
}

// Mutate delegates to the underlying entity repository's single audited
// mutation entrypoint.
func (r *EntityResearch) Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType entity.ChangeType) error {
	return r.repo.Mutate(ctx, ticker, field, newValue, source, filingRef, changeType)
}

// AlertNotifier adapts an alert.Service into the narrow NotifyPort agents
// depend on. Every agent-raised notification is treated as high priority
// and keyed by (kind, ticker) for dedup purposes.
type AlertNotifier struct {
	alerts *alert.Service
}

// NewAlertNotifier creates an AlertNotifier.
func NewAlertNotifier(alerts *alert.Service) *AlertNotifier {
	return &AlertNotifier{alerts: alerts}
}

// Notify sends detail through the alert service, deduplicated by (kind, ticker).
func (n *AlertNotifier) Notify(ctx context.Context, ticker, kind, detail string) error {
	return n.alerts.Notify(ctx, kind, ticker, "", config.PriorityHigh, detail)
}
