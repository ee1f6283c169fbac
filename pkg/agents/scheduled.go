package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/priceindex"
)

// voteLookaheadWindow is how far ahead a scheduled vote counts as "upcoming"
// for VoteTracker's notification.
const voteLookaheadWindow = 14 * 24 * time.Hour

// PriceMonitor refreshes last_price and premium_pct for every announced or
// searching entity from its configured price source. It is the one
// scheduled agent the scheduler's advisory fallback always keeps running.
type PriceMonitor struct {
	Prices priceindex.PriceSource
	Repo   entity.Repository
}

func (PriceMonitor) Name() string { return "PriceMonitor" }

func (p PriceMonitor) Run(ctx context.Context, research agentreg.ResearchPort, notify agentreg.NotifyPort) error {
	repo, ok := research.(entityMutator)
	if !ok {
		return fmt.Errorf("agents: research port does not support mutation")
	}

	entities, err := p.Repo.ListWhere(ctx, func(e *entity.Entity) bool {
		return e.Status == entity.StatusSearching || e.Status == entity.StatusAnnounced
	})
	if err != nil {
		return err
	}

	for _, e := range entities {
		quote, err := p.Prices.GetCurrent(ctx, e.Ticker)
		if err != nil {
			continue
		}
		if err := repo.Mutate(ctx, e.Ticker, "last_price", quote.Price, "PriceMonitor", "", entity.ChangeTypePriceUpdate); err != nil {
			continue
		}
		e.LastPrice = &quote.Price
		if premium, ok := e.Premium(); ok {
			_ = repo.Mutate(ctx, e.Ticker, "premium_pct", premium*100, "PriceMonitor", "", entity.ChangeTypePriceUpdate)
		}
	}
	return nil
}

// VoteTracker notifies when an entity's scheduled shareholder vote falls
// within the lookahead window, so an operator can watch for the outcome.
type VoteTracker struct {
	Repo entity.Repository
}

func (VoteTracker) Name() string { return "VoteTracker" }

func (v VoteTracker) Run(ctx context.Context, research agentreg.ResearchPort, notify agentreg.NotifyPort) error {
	now := time.Now()
	cutoff := now.Add(voteLookaheadWindow)

	entities, err := v.Repo.ListWhere(ctx, func(e *entity.Entity) bool {
		return e.VoteDate != nil && e.VoteDate.After(now) && e.VoteDate.Before(cutoff)
	})
	if err != nil {
		return err
	}

	for _, e := range entities {
		_ = notify.Notify(ctx, e.Ticker, "upcoming_vote", e.VoteDate.Format("2006-01-02"))
	}
	return nil
}
