// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/medxprts/spacmon/pkg/config"
)

// AuditStore is the subset of the entity repository's audit trail needed
// for retention sweeps.
type AuditStore interface {
	PurgeAuditOlderThan(ctx context.Context, olderThanDays int) (int64, error)
}

// FilingEventStore is the subset of the filing log needed for retention sweeps.
type FilingEventStore interface {
	PurgeFilingEventsOlderThan(ctx context.Context, olderThanDays int) (int64, error)
}

// WriteFailureStore is the subset of the database write-failure log needed
// for retention sweeps.
type WriteFailureStore interface {
	PurgeResolvedWriteFailuresOlderThan(ctx context.Context, olderThanDays int) (int64, error)
}

// Service periodically enforces retention policies:
//   - Purges entity_audit rows past their retention window
//   - Purges filing_events rows past their retention window
//   - Purges resolved database_write_failures rows past their retention window
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config        *config.RetentionConfig
	auditStore    AuditStore
	filingEvents  FilingEventStore
	writeFailures WriteFailureStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	auditStore AuditStore,
	filingEvents FilingEventStore,
	writeFailures WriteFailureStore,
) *Service {
	return &Service{
		config:        cfg,
		auditStore:    auditStore,
		filingEvents:  filingEvents,
		writeFailures: writeFailures,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"audit_retention_days", s.config.AuditRetentionDays,
		"filing_event_retention_days", s.config.FilingEventRetentionDays,
		"write_failure_retention_days", s.config.WriteFailureRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeAudit(ctx)
	s.purgeFilingEvents(ctx)
	s.purgeWriteFailures(ctx)
}

func (s *Service) purgeAudit(ctx context.Context) {
	count, err := s.auditStore.PurgeAuditOlderThan(ctx, s.config.AuditRetentionDays)
	if err != nil {
		slog.Error("Retention: audit purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged entity audit rows", "count", count)
	}
}

func (s *Service) purgeFilingEvents(ctx context.Context) {
	count, err := s.filingEvents.PurgeFilingEventsOlderThan(ctx, s.config.FilingEventRetentionDays)
	if err != nil {
		slog.Error("Retention: filing event purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged filing event rows", "count", count)
	}
}

func (s *Service) purgeWriteFailures(ctx context.Context) {
	count, err := s.writeFailures.PurgeResolvedWriteFailuresOlderThan(ctx, s.config.WriteFailureRetentionDays)
	if err != nil {
		slog.Error("Retention: write failure purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged write failure rows", "count", count)
	}
}
