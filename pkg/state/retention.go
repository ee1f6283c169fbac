package state

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WriteFailureRetention purges resolved database_write_failures rows,
// satisfying pkg/cleanup.WriteFailureStore. It is a standalone type rather
// than a Store method since the write-failure log is MonitoredWriter's
// concern, not the generic key/value store's.
type WriteFailureRetention struct {
	db *sqlx.DB
}

// NewWriteFailureRetention creates a WriteFailureRetention over db.
func NewWriteFailureRetention(db *sqlx.DB) *WriteFailureRetention {
	return &WriteFailureRetention{db: db}
}

// PurgeResolvedWriteFailuresOlderThan deletes resolved database_write_failures
// rows older than olderThanDays. Unresolved rows are kept regardless of age.
func (w *WriteFailureRetention) PurgeResolvedWriteFailuresOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM database_write_failures WHERE resolved AND created_at < now() - ($1 || ' days')::interval`,
		olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("state: purge resolved write failures: %w", err)
	}
	return res.RowsAffected()
}
