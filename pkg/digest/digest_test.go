package digest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/database"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("spacmon_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations("test", db.DB))
	return db
}

func insertFiling(t *testing.T, db *sqlx.DB, ticker, accession, priority string, filedAt time.Time) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO filing_events (ticker, cik, accession_number, filing_type, filed_at, priority)
		VALUES ($1, $2, $3, '8-K', $4, $5)`, ticker, "0001", accession, filedAt, priority)
	require.NoError(t, err)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Notify(ctx context.Context, alertType, ticker, key string, priority config.Priority, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return nil
}

func TestAgent_Build_AggregatesFilingsWithinWindow(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	insertFiling(t, db, "ABCD", "acc-1", "high", now.Add(-2*time.Hour))
	insertFiling(t, db, "ABCD", "acc-2", "high", now.Add(-3*time.Hour))
	insertFiling(t, db, "EFGH", "acc-3", "low", now.Add(-1*time.Hour))
	insertFiling(t, db, "IJKL", "acc-4", "low", now.Add(-30*time.Hour)) // outside window

	agent := New(db, &fakeSender{})
	report, err := agent.Build(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFilings)
	require.Len(t, report.ByPriority, 2)
	require.Len(t, report.TopTickers, 2)
	assert.Equal(t, "ABCD", report.TopTickers[0].Ticker)
	assert.Equal(t, 2, report.TopTickers[0].Count)
}

func TestAgent_Run_SendsRenderedReport(t *testing.T) {
	db := newTestDB(t)
	insertFiling(t, db, "ABCD", "acc-1", "high", time.Now())

	sender := &fakeSender{}
	agent := New(db, sender)
	require.NoError(t, agent.Run(context.Background(), nil, nil))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "Daily filing digest")
	assert.Contains(t, sender.sent[0], "Filings logged: 1")
}

func TestRender_IncludesWriteFailureCountWhenNonZero(t *testing.T) {
	report := &Report{WindowStart: time.Now().Add(-24 * time.Hour), WindowEnd: time.Now(), TotalFilings: 0, WriteFailures: 2}
	text := Render(report)
	assert.Contains(t, text, "Database write failures: 2")
}
