package filing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/medxprts/spacmon/pkg/state"
)

// Divergence describes one mismatch found between filing.seen and the
// authoritative filing log.
type Divergence struct {
	Ticker string
	ID     string
	Kind   string // "seen_but_not_logged" or "logged_but_not_seen"
}

// Reconcile cross-checks the filing.seen bounded lists against the
// authoritative filing_events log for every ticker and reports — never
// silently repairs — any divergence. Used by the `validate` CLI mode.
func Reconcile(ctx context.Context, store *state.Store, db *sqlx.DB, tickers []string) ([]Divergence, error) {
	var divergences []Divergence

	for _, ticker := range tickers {
		seenIDs, err := seenSet(ctx, store, ticker)
		if err != nil {
			return nil, fmt.Errorf("filing: reconcile read filing.seen for %s: %w", ticker, err)
		}

		var loggedIDs []string
		if err := db.SelectContext(ctx, &loggedIDs,
			`SELECT accession_number FROM filing_events WHERE ticker = $1`, ticker); err != nil {
			return nil, fmt.Errorf("filing: reconcile read filing log for %s: %w", ticker, err)
		}
		loggedSet := make(map[string]bool, len(loggedIDs))
		for _, id := range loggedIDs {
			loggedSet[id] = true
		}

		for id := range seenIDs {
			if !loggedSet[id] {
				divergences = append(divergences, Divergence{Ticker: ticker, ID: id, Kind: "seen_but_not_logged"})
			}
		}
		for id := range loggedSet {
			if !seenIDs[id] {
				divergences = append(divergences, Divergence{Ticker: ticker, ID: id, Kind: "logged_but_not_seen"})
			}
		}
	}

	return divergences, nil
}

func seenSet(ctx context.Context, store *state.Store, ticker string) (map[string]bool, error) {
	raws, err := store.BoundedList(ctx, state.NamespaceFilingSeen, ticker)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(raws))
	for _, raw := range raws {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			set[id] = true
		}
	}
	return set, nil
}
