// Package entity provides the single repository for tracked SPAC entities:
// lookup by ticker and CIK, status/predicate scans used by validation
// sweeps and accelerated-polling consultation, and the one mutation
// entrypoint through which every field change is also audited.
package entity

import (
	"context"
	"errors"
	"time"

	"github.com/medxprts/spacmon/pkg/config"
)

// Status is the lifecycle stage of a tracked entity.
type Status = config.EntityStatus

const (
	StatusSearching  = config.EntityStatusSearching
	StatusAnnounced  = config.EntityStatusAnnounced
	StatusCompleted  = config.EntityStatusCompleted
	StatusLiquidated = config.EntityStatusLiquidated
	StatusDelisted   = config.EntityStatusDelisted
)

// ChangeType classifies the provenance of a Mutate call for the audit trail.
type ChangeType string

const (
	ChangeTypeFilingExtraction ChangeType = "filing_extraction"
	ChangeTypeApprovedFix      ChangeType = "approved_fix"
	ChangeTypePriceUpdate      ChangeType = "price_update"
	ChangeTypeManual           ChangeType = "manual"
)

// ErrNotFound is returned when no tracked entity matches the lookup.
var ErrNotFound = errors.New("entity: not found")

// Entity is a tracked SPAC: its identity, lifecycle attributes, dates,
// and financial fields.
type Entity struct {
	Ticker   string  `db:"ticker"`
	CIK      string  `db:"cik"`
	IssuedTo *string `db:"issued_to"`
	Name     string  `db:"name"`
	Status   Status  `db:"status"`

	IPODate         *time.Time `db:"ipo_date"`
	AnnouncedDate   *time.Time `db:"announced_date"`
	VoteDate        *time.Time `db:"vote_date"`
	ExtensionDeadline *time.Time `db:"extension_deadline"`
	CompletionDate  *time.Time `db:"completion_date"`
	DelistedDate    *time.Time `db:"delisted_date"`

	TrustPerShare     *float64 `db:"trust_per_share"`
	TrustCashTotal    *float64 `db:"trust_cash_total"`
	SharesOutstanding *int64   `db:"shares_outstanding"`
	LastPrice         *float64 `db:"last_price"`
	PremiumPct        *float64 `db:"premium_pct"`

	DealCounterparty *string    `db:"deal_counterparty"`
	DealAnnouncedAt  *time.Time `db:"deal_announced_at"`
	IsLiquidating    bool       `db:"is_liquidating"`

	AcceleratedPollingUntil *time.Time `db:"accelerated_polling_until"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Premium computes (price - trust_per_share) / trust_per_share. Returns
// false if either input is unavailable or trust per-share is zero.
func (e *Entity) Premium() (float64, bool) {
	if e.LastPrice == nil || e.TrustPerShare == nil || *e.TrustPerShare == 0 {
		return 0, false
	}
	return (*e.LastPrice - *e.TrustPerShare) / *e.TrustPerShare, true
}

// AuditRow is one recorded field mutation.
type AuditRow struct {
	ID         int64      `db:"id"`
	Ticker     string     `db:"ticker"`
	Field      string     `db:"field"`
	OldValue   []byte     `db:"old_value"`
	NewValue   []byte     `db:"new_value"`
	Source     string     `db:"source"`
	FilingRef  *string    `db:"filing_ref"`
	ChangeType ChangeType `db:"change_type"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Repository persists and queries tracked entities. All mutations go
// through Mutate so that every field change is audited.
type Repository interface {
	ByTicker(ctx context.Context, ticker string) (*Entity, error)
	ByCIK(ctx context.Context, cik string) (*Entity, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Entity, error)
	ListWhere(ctx context.Context, predicate Predicate) ([]*Entity, error)
	Create(ctx context.Context, e *Entity) error
	Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType ChangeType) error
}

// Predicate is a caller-supplied filter evaluated in-process over the full
// set of tracked entities. Used by validation sweeps and accelerated-polling
// consultation where the condition doesn't map cleanly onto SQL.
type Predicate func(*Entity) bool
