// Package dealsignal aggregates raw news and social mentions of a
// possible business-combination rumor into accelerated-polling triggers.
// It deduplicates the same ticker/target/day mention across sources
// before raising anything, mirroring how the original aggregator avoided
// re-alerting on one rumor surfaced by SEC RSS, a news wire, and social
// media in the same pass. Extracting the target name or scoring whether
// a mention is a "real" deal is out of scope here — that judgment call
// belongs to whatever filing agent later processes the confirmed
// business-combination filing itself; this package only decides whether
// a mention is new and worth accelerating polling for.
package dealsignal

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/events"
	"github.com/medxprts/spacmon/pkg/state"
)

// RawSignal is a single unvalidated mention of a possible deal, as
// reported by an external news or social source.
type RawSignal struct {
	Ticker     string
	Target     string
	Source     string
	OccurredAt time.Time
}

// SignalSource is the read port an external news/social vendor would
// satisfy. Wiring a real vendor is out of scope; only the interface and
// two standalone implementations ship here.
type SignalSource interface {
	Recent(ctx context.Context, since time.Time) ([]RawSignal, error)
}

// NullSignalSource reports no signals. Safe default before a vendor is
// wired in.
type NullSignalSource struct{}

func (NullSignalSource) Recent(ctx context.Context, since time.Time) ([]RawSignal, error) {
	return nil, nil
}

// RecordedSignalSource replays a fixed set of signals, for tests and
// local runs without network access.
type RecordedSignalSource struct {
	signals []RawSignal
}

// NewRecordedSignalSource creates a RecordedSignalSource from a seed list.
func NewRecordedSignalSource(signals []RawSignal) *RecordedSignalSource {
	return &RecordedSignalSource{signals: append([]RawSignal(nil), signals...)}
}

func (s *RecordedSignalSource) Recent(ctx context.Context, since time.Time) ([]RawSignal, error) {
	out := make([]RawSignal, 0, len(s.signals))
	for _, sig := range s.signals {
		if !sig.OccurredAt.Before(since) {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Publisher is the narrow write port used to raise a durable, broadcast
// trigger once a signal is confirmed new. *events.Publisher satisfies
// this.
type Publisher interface {
	PublishTrigger(ctx context.Context, ticker string, payload events.TriggerPayload) error
}

// lookback bounds how far back Run looks on a cold start, before a
// cursor has been recorded.
const lookback = 48 * time.Hour

// Agent is the scheduled agent that turns deduplicated raw signals into
// accelerated-polling triggers. It implements agentreg.ScheduledAgent.
type Agent struct {
	source    SignalSource
	store     *state.Store
	publisher Publisher
}

// New creates a dealsignal Agent.
func New(source SignalSource, store *state.Store, publisher Publisher) *Agent {
	return &Agent{source: source, store: store, publisher: publisher}
}

func (Agent) Name() string { return "DealSignalAggregator" }

func (a *Agent) Run(ctx context.Context, research agentreg.ResearchPort, notify agentreg.NotifyPort) error {
	since := time.Now().Add(-lookback)
	if raw, err := a.store.Get(ctx, state.NamespaceDealSignalCursor, "last_run"); err == nil && len(raw) > 0 {
		var cursor time.Time
		if jsonErr := json.Unmarshal(raw, &cursor); jsonErr == nil && cursor.After(since) {
			since = cursor
		}
	}

	signals, err := a.source.Recent(ctx, since)
	if err != nil {
		return fmt.Errorf("dealsignal: reading recent signals: %w", err)
	}

	now := time.Now()
	for _, sig := range signals {
		id := signalID(sig)
		seen, err := a.alreadySeen(ctx, sig.Ticker, id)
		if err != nil || seen {
			continue
		}
		if err := a.store.AppendBounded(ctx, state.NamespaceDealSignalSeen, sig.Ticker, id, 200); err != nil {
			continue
		}
		if a.publisher == nil {
			continue
		}
		_ = a.publisher.PublishTrigger(ctx, sig.Ticker, events.TriggerPayload{
			Kind:      string(config.TriggerKindNews),
			Detail:    fmt.Sprintf("possible deal signal: %s (source: %s)", sig.Target, sig.Source),
			Timestamp: sig.OccurredAt.Format(time.RFC3339Nano),
		})
	}

	return a.store.Put(ctx, state.NamespaceDealSignalCursor, "last_run", now)
}

func (a *Agent) alreadySeen(ctx context.Context, ticker, id string) (bool, error) {
	raws, err := a.store.BoundedList(ctx, state.NamespaceDealSignalSeen, ticker)
	if err != nil {
		return false, err
	}
	for _, raw := range raws {
		var existing string
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr == nil && existing == id {
			return true, nil
		}
	}
	return false, nil
}

// signalID mirrors the original aggregator's dedup key: ticker, target,
// and calendar day collapse repeated mentions of the same rumor from
// different wires into a single trigger.
func signalID(s RawSignal) string {
	key := fmt.Sprintf("%s_%s_%s", s.Ticker, s.Target, s.OccurredAt.Format("2006-01-02"))
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
