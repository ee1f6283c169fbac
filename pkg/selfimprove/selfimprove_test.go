package selfimprove

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

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

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

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

func TestRecorder_SendsProposalOnlyOnceThresholdCrossed(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{}
	cfg := config.DefaultDefaults()
	cfg.CodeImprovementThreshold = 3
	r := New(db, cfg, sender, nil)

	ctx := context.Background()
	require.NoError(t, r.RecordOccurrence(ctx, "trust_per_share_range"))
	require.NoError(t, r.RecordOccurrence(ctx, "trust_per_share_range"))
	assert.Equal(t, 0, sender.count())

	require.NoError(t, r.RecordOccurrence(ctx, "trust_per_share_range"))
	assert.Equal(t, 1, sender.count())

	require.NoError(t, r.RecordOccurrence(ctx, "trust_per_share_range"))
	assert.Equal(t, 1, sender.count(), "should not re-send once a proposal already exists for the window")
}

func TestRecorder_DistinctPatternsTrackedSeparately(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{}
	cfg := config.DefaultDefaults()
	cfg.CodeImprovementThreshold = 1
	r := New(db, cfg, sender, nil)

	ctx := context.Background()
	require.NoError(t, r.RecordOccurrence(ctx, "rule_a"))
	require.NoError(t, r.RecordOccurrence(ctx, "rule_b"))
	assert.Equal(t, 2, sender.count())
}

func TestApplyCodeImprovement_BacksUpAndOverwrites(t *testing.T) {
	db := newTestDB(t)
	r := New(db, config.DefaultDefaults(), &fakeSender{}, nil)

	dir := t.TempDir()
	target := filepath.Join(dir, "target.go")
	require.NoError(t, os.WriteFile(target, []byte("package original\n"), 0o644))

	ctx := context.Background()
	id, err := r.CreateCodeImprovement(ctx, Proposal{PatternKey: "rule_a"}, target)
	require.NoError(t, err)

	backupDir := filepath.Join(dir, "backups")
	require.NoError(t, r.ApplyCodeImprovement(ctx, id, "package patched\n", backupDir))

	patched, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "package patched\n", string(patched))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	backedUp, err := os.ReadFile(filepath.Join(backupDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "package original\n", string(backedUp))
}

func TestApplyCodeImprovement_RejectsAlreadyAppliedRow(t *testing.T) {
	db := newTestDB(t)
	r := New(db, config.DefaultDefaults(), &fakeSender{}, nil)

	dir := t.TempDir()
	target := filepath.Join(dir, "target.go")
	require.NoError(t, os.WriteFile(target, []byte("package original\n"), 0o644))

	ctx := context.Background()
	id, err := r.CreateCodeImprovement(ctx, Proposal{PatternKey: "rule_a"}, target)
	require.NoError(t, err)

	backupDir := filepath.Join(dir, "backups")
	require.NoError(t, r.ApplyCodeImprovement(ctx, id, "package patched\n", backupDir))

	err = r.ApplyCodeImprovement(ctx, id, "package patched-again\n", backupDir)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}
