// Package alert is the outbound notification path: it deduplicates
// repeat alerts for the same (type, ticker, key) within a cooldown
// window, routes by priority, and delivers through the chat transport.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/state"
)

// sender is the narrow chat-transport dependency this package needs,
// satisfied by *chat.Client. Kept as an interface so tests can supply a
// fake instead of a live Slack connection.
type sender interface {
	Send(ctx context.Context, text string) error
}

// Service sends deduplicated, priority-routed alerts through a chat
// transport. It implements state.Alerter so it can be wired into
// state.MonitoredWriter for infrastructure failure alerts.
type Service struct {
	chat     sender
	store    *state.Store
	cooldown time.Duration
	log      *slog.Logger
}

// New creates a Service. cooldown is the dedup window for repeat alerts
// sharing the same (alertType, ticker, key); cfg.AlertDedupCooldown is the
// usual source.
func New(chatClient sender, store *state.Store, cooldown time.Duration) *Service {
	return &Service{chat: chatClient, store: store, cooldown: cooldown, log: slog.With("component", "alert.service")}
}

// Alert implements state.Alerter. It routes through Notify with a generic
// "infra" alert type keyed by subject, so repeated identical infrastructure
// failures within the cooldown window don't spam the channel.
func (s *Service) Alert(ctx context.Context, subject, body string) error {
	return s.Notify(ctx, "infra", "", subject, config.PriorityCritical, subject+"\n\n"+body)
}

// Notify sends an alert unless an identical (alertType, ticker, key) alert
// was already sent within the cooldown window. Every alert is prefixed
// with its priority in brackets, followed by the ticker when one is given.
func (s *Service) Notify(ctx context.Context, alertType, ticker, key string, priority config.Priority, body string) error {
	dedupKey := alertType + "|" + ticker + "|" + key

	if s.store != nil {
		fresh, err := s.withinCooldown(ctx, dedupKey)
		if err != nil {
			s.log.Warn("alert dedup lookup failed, sending anyway", "key", dedupKey, "error", err)
		} else if fresh {
			s.log.Debug("alert suppressed by dedup cooldown", "key", dedupKey)
			return nil
		}
	}

	text := formatAlert(priority, ticker, body)
	if err := s.chat.Send(ctx, text); err != nil {
		return fmt.Errorf("alert: send failed: %w", err)
	}

	if s.store != nil {
		if err := s.recordSent(ctx, dedupKey); err != nil {
			s.log.Warn("failed to record alert dedup timestamp", "key", dedupKey, "error", err)
		}
	}
	return nil
}

func formatAlert(priority config.Priority, ticker, body string) string {
	prefix := fmt.Sprintf("[%s]", priority)
	if ticker != "" {
		prefix = fmt.Sprintf("%s %s", prefix, ticker)
	}
	return prefix + " " + body
}

func (s *Service) withinCooldown(ctx context.Context, dedupKey string) (bool, error) {
	raw, err := s.store.Get(ctx, state.NamespaceAlertDedup, dedupKey)
	if err == state.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var lastSent time.Time
	if err := json.Unmarshal(raw, &lastSent); err != nil {
		return false, err
	}
	return time.Since(lastSent) < s.cooldown, nil
}

func (s *Service) recordSent(ctx context.Context, dedupKey string) error {
	return s.store.Put(ctx, state.NamespaceAlertDedup, dedupKey, time.Now())
}

var _ state.Alerter = (*Service)(nil)
