package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Severity classifies a write failure for the database_write_failures log
// and for the rolling-hour alert threshold.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// criticalAlertThreshold is the number of critical write failures within
// criticalAlertWindow that triggers an operator alert.
const (
	criticalAlertThreshold = 3
	criticalAlertWindow    = time.Hour
)

// Alerter is the narrow notification port MonitoredWriter raises critical
// write-failure storms through. Implemented by the outbound alert package.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// MonitoredWriter wraps a Store, logging every write failure to the
// database_write_failures table and alerting once 3 critical failures land
// within a rolling hour.
type MonitoredWriter struct {
	*Store
	db      *sqlx.DB
	alerter Alerter
	log     *slog.Logger

	mu        sync.Mutex
	criticals []time.Time
}

// NewMonitoredWriter wraps store. alerter may be nil, in which case critical
// failure storms are only logged, not sent anywhere.
func NewMonitoredWriter(store *Store, db *sqlx.DB, alerter Alerter) *MonitoredWriter {
	return &MonitoredWriter{
		Store:   store,
		db:      db,
		alerter: alerter,
		log:     slog.With("component", "state.monitored_writer"),
	}
}

// Put behaves like Store.Put but records failures to database_write_failures.
func (m *MonitoredWriter) Put(ctx context.Context, namespace, key string, value any) error {
	err := m.Store.Put(ctx, namespace, key, value)
	m.recordOutcome(ctx, namespace, key, "put", SeverityCritical, err)
	return err
}

// CompareAndSet behaves like Store.CompareAndSet but records failures.
// ErrConflict is expected caller-visible contention, not an infrastructure
// failure, so it is not logged to database_write_failures.
func (m *MonitoredWriter) CompareAndSet(ctx context.Context, namespace, key string, expected, newValue any) error {
	err := m.Store.CompareAndSet(ctx, namespace, key, expected, newValue)
	if err != nil && err != ErrConflict {
		m.recordOutcome(ctx, namespace, key, "compare_and_set", SeverityCritical, err)
	}
	return err
}

// AppendBounded behaves like Store.AppendBounded but records failures.
func (m *MonitoredWriter) AppendBounded(ctx context.Context, namespace, key string, value any, maxLen int) error {
	err := m.Store.AppendBounded(ctx, namespace, key, value, maxLen)
	m.recordOutcome(ctx, namespace, key, "append_bounded", SeverityWarning, err)
	return err
}

func (m *MonitoredWriter) recordOutcome(ctx context.Context, namespace, key, operation string, severity Severity, writeErr error) {
	if writeErr == nil {
		return
	}

	m.log.Error("state write failed", "namespace", namespace, "key", key, "operation", operation, "severity", severity, "error", writeErr)

	// The caller's context may already be canceled or expired (that may be
	// why the write failed); bookkeeping must not inherit that deadline.
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.db.ExecContext(logCtx, `
		INSERT INTO database_write_failures (namespace, key, operation, error, severity)
		VALUES ($1, $2, $3, $4, $5)`,
		namespace, key, operation, writeErr.Error(), string(severity)); err != nil {
		m.log.Error("failed to persist write-failure record", "error", err)
	}

	if severity == SeverityCritical {
		m.noteCriticalAndMaybeAlert(logCtx, namespace, key, operation, writeErr)
	}
}

func (m *MonitoredWriter) noteCriticalAndMaybeAlert(ctx context.Context, namespace, key, operation string, writeErr error) {
	m.mu.Lock()
	now := timeNow()
	cutoff := now.Add(-criticalAlertWindow)
	recent := m.criticals[:0]
	for _, t := range m.criticals {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.criticals = recent
	count := len(m.criticals)
	m.mu.Unlock()

	if count < criticalAlertThreshold {
		return
	}

	m.log.Error("critical write-failure threshold reached", "count", count, "window", criticalAlertWindow)

	if m.alerter == nil {
		return
	}
	subject := "state store write failures"
	body := fmt.Sprintf("%d critical write failures in the last %s; most recent at %s/%s (%s): %v",
		count, criticalAlertWindow, namespace, key, operation, writeErr)
	if err := m.alerter.Alert(ctx, subject, body); err != nil {
		m.log.Error("failed to send write-failure alert", "error", err)
	}
}

// timeNow is indirected so tests can control failure timestamps without a
// clock dependency injected through every call site.
var timeNow = time.Now
