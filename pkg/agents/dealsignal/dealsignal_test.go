package dealsignal

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

	"github.com/medxprts/spacmon/pkg/database"
	"github.com/medxprts/spacmon/pkg/events"
	"github.com/medxprts/spacmon/pkg/state"
)

func newTestStore(t *testing.T) *state.Store {
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
	return state.New(db)
}

type fakePublisher struct {
	mu       sync.Mutex
	tickers  []string
	payloads []events.TriggerPayload
}

func (f *fakePublisher) PublishTrigger(ctx context.Context, ticker string, payload events.TriggerPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = append(f.tickers, ticker)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func TestAgent_Run_PublishesTriggerForNewSignal(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	source := NewRecordedSignalSource([]RawSignal{
		{Ticker: "AAAA", Target: "Acme Corp", Source: "news_wire", OccurredAt: now.Add(-time.Hour)},
	})
	pub := &fakePublisher{}
	agent := New(source, store, pub)

	require.NoError(t, agent.Run(context.Background(), nil, nil))

	assert.Equal(t, 1, pub.count())
	assert.Equal(t, "AAAA", pub.tickers[0])
	assert.Contains(t, pub.payloads[0].Detail, "Acme Corp")
}

func TestAgent_Run_DeduplicatesSameSignalAcrossRuns(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	source := NewRecordedSignalSource([]RawSignal{
		{Ticker: "BBBB", Target: "Widget Inc", Source: "news_wire", OccurredAt: now.Add(-time.Hour)},
	})
	pub := &fakePublisher{}
	agent := New(source, store, pub)

	ctx := context.Background()
	require.NoError(t, agent.Run(ctx, nil, nil))
	require.NoError(t, agent.Run(ctx, nil, nil))

	assert.Equal(t, 1, pub.count(), "the same ticker/target/day signal should only trigger once")
}

func TestAgent_Run_DistinctSourcesSameRumorCollapseToOneTrigger(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	source := NewRecordedSignalSource([]RawSignal{
		{Ticker: "CCCC", Target: "Orbit Holdings", Source: "sec_rss", OccurredAt: now.Add(-2 * time.Hour)},
		{Ticker: "CCCC", Target: "Orbit Holdings", Source: "twitter", OccurredAt: now.Add(-time.Hour)},
	})
	pub := &fakePublisher{}
	agent := New(source, store, pub)

	require.NoError(t, agent.Run(context.Background(), nil, nil))

	assert.Equal(t, 1, pub.count(), "same ticker/target/day from two sources is one rumor, not two")
}

func TestAgent_Run_NilPublisherStillAdvancesCursorWithoutError(t *testing.T) {
	store := newTestStore(t)
	source := NewRecordedSignalSource([]RawSignal{
		{Ticker: "DDDD", Target: "Nebula Ltd", Source: "news_wire", OccurredAt: time.Now().Add(-time.Hour)},
	})
	agent := New(source, store, nil)

	assert.NoError(t, agent.Run(context.Background(), nil, nil))
	raw, err := store.Get(context.Background(), state.NamespaceDealSignalCursor, "last_run")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}
