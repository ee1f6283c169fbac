// Package filing polls regulatory filing feeds for tracked entities.
//
// Exactly-once contract: the poller itself NEVER writes to the filing.seen
// bounded list. It only emits Event values. Only the orchestrator (the
// agent dispatcher, pkg/agentreg) writes filing.seen, and only after a
// successful — or duplicate-violation — insert into the durable filing log.
// This makes the pipeline exactly-once under the filing log's unique
// constraint on accession number: a crash between emission and logging
// simply causes the next poll to re-observe the filing.
package filing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medxprts/spacmon/pkg/httpclient"
	"github.com/medxprts/spacmon/pkg/state"
)

// DefaultLookbackWindow is deliberately wider than the normal polling
// interval so a transiently elevated last_check never silently drops a
// late-published filing.
const DefaultLookbackWindow = 48 * time.Hour

const maxBodyFetchBytes = 50 * 1024

// Entry is one parsed item from a regulator's filing feed.
type Entry struct {
	Title       string
	FilingType  string
	ItemNumber  string
	FiledAt     time.Time
	IndexURL    string
	AccessionNo string
}

// Event is what the poller emits for a single, not-yet-seen filing.
type Event struct {
	Ticker        string
	CIK           string
	FilingID      string // hash of (identifier, title, filed_at truncated to day)
	Entry         Entry
	PrimaryDocURL string
	Body          string // best-effort, bounded to ~50KB; may be empty
}

// FeedSource fetches and parses an entity's filing feed. Implemented
// against the rate-limited HTTP client for a specific regulator's API
// shape; kept as an interface so tests can supply canned feeds.
type FeedSource interface {
	Poll(ctx context.Context, cik string) ([]Entry, error)
}

// Poller polls the configured set of tracked identifiers and emits Events
// for filings not already recorded in filing.seen.
type Poller struct {
	feed    FeedSource
	http    *httpclient.Client
	state   *state.Store
	lookback time.Duration
	log     *slog.Logger
}

// New creates a Poller. httpClient is used to resolve and fetch filing
// document bodies once an entry passes the seen/lookback checks.
func New(feed FeedSource, httpClient *httpclient.Client, store *state.Store) *Poller {
	return &Poller{
		feed:     feed,
		http:     httpClient,
		state:    store,
		lookback: DefaultLookbackWindow,
		log:      slog.With("component", "filing.poller"),
	}
}

// FilingID hashes (identifier, title, filed-at truncated to day) into a
// stable id used for seen-tracking and the filing log's identity.
func FilingID(identifier, title string, filedAt time.Time) string {
	day := filedAt.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(identifier + "|" + strings.TrimSpace(title) + "|" + day))
	return hex.EncodeToString(sum[:])[:20]
}

// PollEntity polls a single tracked entity and returns the Events for
// filings that are new relative to filing.seen and within the lookback
// window. It never mutates filing.seen.
func (p *Poller) PollEntity(ctx context.Context, ticker, cik string) ([]Event, error) {
	entries, err := p.feed.Poll(ctx, cik)
	if err != nil {
		return nil, fmt.Errorf("filing: poll %s (cik %s): %w", ticker, cik, err)
	}

	seen, err := p.state.BoundedList(ctx, state.NamespaceFilingSeen, ticker)
	if err != nil {
		return nil, fmt.Errorf("filing: read filing.seen for %s: %w", ticker, err)
	}
	seenIDs := make(map[string]bool, len(seen))
	for _, raw := range seen {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			seenIDs[id] = true
		}
	}

	cutoff := time.Now().Add(-p.lookback)
	var events []Event
	for _, entry := range entries {
		id := FilingID(cik, entry.Title, entry.FiledAt)
		if seenIDs[id] {
			continue
		}
		if entry.FiledAt.Before(cutoff) {
			continue
		}

		primaryURL := entry.IndexURL
		var body string
		if p.http != nil {
			if resolved, err := p.http.ResolvePrimaryDocument(ctx, entry.IndexURL, entry.FilingType); err == nil {
				primaryURL = resolved
			} else {
				p.log.Warn("failed to resolve primary document, using index url", "ticker", ticker, "error", err)
			}
			if raw, err := p.http.Fetch(ctx, primaryURL); err == nil {
				if len(raw) > maxBodyFetchBytes {
					raw = raw[:maxBodyFetchBytes]
				}
				body = string(raw)
			} else {
				p.log.Warn("failed to fetch filing body", "ticker", ticker, "url", primaryURL, "error", err)
			}
		}

		events = append(events, Event{
			Ticker:        ticker,
			CIK:           cik,
			FilingID:      id,
			Entry:         entry,
			PrimaryDocURL: primaryURL,
			Body:          body,
		})
	}
	return events, nil
}

// PollAll polls every tracked identifier. Per-entity poll failures are
// collected and returned alongside whatever events succeeded; they do not
// abort the batch.
func (p *Poller) PollAll(ctx context.Context, identifiers map[string]string) ([]Event, []error) {
	var events []Event
	var errs []error
	for ticker, cik := range identifiers {
		entityEvents, err := p.PollEntity(ctx, ticker, cik)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, entityEvents...)
	}
	return events, errs
}
