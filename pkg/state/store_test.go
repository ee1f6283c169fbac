package state

import (
	"context"
	"encoding/json"
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

func newTestStore(t *testing.T) (*Store, *sqlx.DB) {
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

	return New(db), db
}

func TestStore_PutAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "key1", map[string]any{"a": 1}))

	raw, err := s.Get(ctx, "ns", "key1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "ns", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CompareAndSetSucceedsOnMatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "counter", 1))
	require.NoError(t, s.CompareAndSet(ctx, "ns", "counter", 1, 2))

	raw, err := s.Get(ctx, "ns", "counter")
	require.NoError(t, err)
	assert.Equal(t, "2", string(raw))
}

func TestStore_CompareAndSetConflictsOnMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "counter", 1))
	err := s.CompareAndSet(ctx, "ns", "counter", 99, 2)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_CompareAndSetRequiresNilExpectedForNewKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CompareAndSet(ctx, "ns", "new-key", nil, "first"))

	raw, err := s.Get(ctx, "ns", "new-key")
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(raw))
}

func TestStore_AppendBoundedTrimsOldest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendBounded(ctx, "ns", "list", i, 3))
	}

	items, err := s.BoundedList(ctx, "ns", "list")
	require.NoError(t, err)
	require.Len(t, items, 3)

	var values []int
	for _, raw := range items {
		var v int
		require.NoError(t, json.Unmarshal(raw, &v))
		values = append(values, v)
	}
	assert.Equal(t, []int{2, 3, 4}, values)
}

func TestStore_RangeScanFiltersByPrefix(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "filing.seen.AAAA", true))
	require.NoError(t, s.Put(ctx, "ns", "filing.seen.BBBB", true))
	require.NoError(t, s.Put(ctx, "ns", "other.key", true))

	result, err := s.RangeScan(ctx, "ns", "filing.seen.")
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Contains(t, result, "filing.seen.AAAA")
	assert.Contains(t, result, "filing.seen.BBBB")
}
