package entity

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medxprts/spacmon/pkg/database"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations("test", db.DB))

	return New(db)
}

func seedEntity(t *testing.T, s *Store, ticker, cik string) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &Entity{
		Ticker: ticker,
		CIK:    cik,
		Name:   ticker + " Acquisition Corp",
		Status: StatusSearching,
	}))
}

func TestStore_CreateAndByTicker(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "ABCD", "0000000001")

	e, err := s.ByTicker(context.Background(), "ABCD")
	require.NoError(t, err)
	assert.Equal(t, "0000000001", e.CIK)
	assert.Equal(t, StatusSearching, e.Status)
}

func TestStore_ByTickerNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ByTicker(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ByCIK(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "ABCD", "0000000001")

	e, err := s.ByCIK(context.Background(), "0000000001")
	require.NoError(t, err)
	assert.Equal(t, "ABCD", e.Ticker)
}

func TestStore_ListByStatus(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "AAAA", "0000000001")
	seedEntity(t, s, "BBBB", "0000000002")
	require.NoError(t, s.Mutate(context.Background(), "BBBB", "status", StatusAnnounced, "test", "", ChangeTypeManual))

	announced, err := s.ListByStatus(context.Background(), StatusAnnounced)
	require.NoError(t, err)
	require.Len(t, announced, 1)
	assert.Equal(t, "BBBB", announced[0].Ticker)
}

func TestStore_ListWhere(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "AAAA", "0000000001")
	seedEntity(t, s, "BBBB", "0000000002")
	require.NoError(t, s.Mutate(context.Background(), "BBBB", "last_price", 12.5, "test", "", ChangeTypeManual))

	matched, err := s.ListWhere(context.Background(), func(e *Entity) bool {
		return e.LastPrice != nil && *e.LastPrice > 10
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "BBBB", matched[0].Ticker)
}

func TestStore_MutateRecordsAuditRow(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "AAAA", "0000000001")

	require.NoError(t, s.Mutate(context.Background(), "AAAA", "deal_counterparty", "Example Target Inc", "deal-detector", "0000000001-24-000123", ChangeTypeFilingExtraction))

	e, err := s.ByTicker(context.Background(), "AAAA")
	require.NoError(t, err)
	require.NotNil(t, e.DealCounterparty)
	assert.Equal(t, "Example Target Inc", *e.DealCounterparty)

	var auditCount int
	require.NoError(t, s.db.Get(&auditCount, `SELECT count(*) FROM entity_audit WHERE ticker = $1 AND field = $2`, "AAAA", "deal_counterparty"))
	assert.Equal(t, 1, auditCount)
}

func TestStore_MutateUnknownFieldRejected(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "AAAA", "0000000001")

	err := s.Mutate(context.Background(), "AAAA", "not_a_real_column", "x", "test", "", ChangeTypeManual)
	assert.Error(t, err)
}

func TestOperations_CompleteSetsIssuedToWithoutChangingCIK(t *testing.T) {
	s := newTestStore(t)
	seedEntity(t, s, "AAAA", "0000000001")

	require.NoError(t, Complete(context.Background(), s, "AAAA", "completion-monitor", "0000000001-24-000999", "NEWCO"))

	e, err := s.ByTicker(context.Background(), "AAAA")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, "0000000001", e.CIK)
	require.NotNil(t, e.IssuedTo)
	assert.Equal(t, "NEWCO", *e.IssuedTo)
}
