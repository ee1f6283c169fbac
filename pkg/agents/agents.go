// Package agents holds the concrete filing agents dispatched by
// pkg/agentreg. Each is a deliberately thin black-box stand-in for the
// production extraction logic described in the original research tooling:
// a small amount of real, idempotent field-writing logic grounded on a
// regex or keyword match against the filing body, wired through
// entity.Mutate so every write is audited.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/entity"
)

// dealCounterpartyRe looks for "merger with/agreement with <Name> Inc./Corp./..."
// style phrasing in an 8-K Item 1.01 body. A narrow heuristic, not an NLP
// extractor: production-grade counterparty extraction is out of scope.
var dealCounterpartyRe = regexp.MustCompile(`(?i)(?:merger agreement with|business combination agreement with|agreement and plan of merger with)\s+([A-Z][A-Za-z0-9&.,\s]{2,60}?)(?:,|\.|\n|$)`)

// DealDetector reacts to 8-K Item 1.01 filings, extracting a counterparty
// name when the body contains one and recording the deal announcement.
type DealDetector struct{}

func (DealDetector) Name() string { return "DealDetector" }

func (DealDetector) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	if _, err := research.ByTicker(ctx, ticker); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	match := dealCounterpartyRe.FindStringSubmatch(f.Event.Body)
	counterparty := strings.TrimSpace(stringOrEmpty(match, 1))
	if counterparty == "" {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "no counterparty phrase matched"}
	}

	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	if err := repo.Mutate(ctx, ticker, "deal_counterparty", counterparty, "DealDetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}
	if err := repo.Mutate(ctx, ticker, "deal_announced_at", f.Event.Entry.FiledAt, "DealDetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}
	if err := repo.Mutate(ctx, ticker, "status", entity.StatusAnnounced, "DealDetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	_ = notify.Notify(ctx, ticker, "deal_announced", counterparty)
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "counterparty: " + counterparty}
}

// deadlineRe matches dates like "September 30, 2026" or "2026-09-30" near
// extension language in an 8-K Item 5.03 or DEFM14A body.
var deadlineRe = regexp.MustCompile(`(?i)extend(?:ed|s|ing)?[^.]{0,80}?(?:to|until)\s+([A-Z][a-z]+ \d{1,2},? \d{4}|\d{4}-\d{2}-\d{2})`)

// ExtensionMonitor reacts to 8-K Item 5.03 filings, extracting a new
// extension deadline and bumping the entity's accelerated-polling window
// since an extension vote often precedes further near-term filings.
type ExtensionMonitor struct{}

func (ExtensionMonitor) Name() string { return "ExtensionMonitor" }

func (ExtensionMonitor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	match := deadlineRe.FindStringSubmatch(f.Event.Body)
	if match == nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "no extension deadline phrase matched"}
	}

	deadline, err := parseFlexibleDate(match[1])
	if err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "unparseable deadline: " + match[1]}
	}

	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	if err := repo.Mutate(ctx, ticker, "extension_deadline", deadline, "ExtensionMonitor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	accelerateUntil := time.Now().Add(7 * 24 * time.Hour)
	if err := repo.Mutate(ctx, ticker, "accelerated_polling_until", accelerateUntil, "ExtensionMonitor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	_ = notify.Notify(ctx, ticker, "extension_deadline_updated", deadline.Format("2006-01-02"))
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "new deadline: " + deadline.Format("2006-01-02")}
}

// redemptionRe captures the dollar amount paid or withdrawn from the trust
// out of an 8-K Item 5.07 vote-results body.
var redemptionRe = regexp.MustCompile(`(?i)approximately\s+\$?([\d,]+(?:\.\d+)?)\s*(?:million)?\s+(?:was|were)\s+(?:paid|withdrawn)\s+from\s+the\s+trust`)

// RedemptionExtractor reacts to 8-K Item 5.07 filings, recording the
// post-redemption trust cash figure when the body reports one.
type RedemptionExtractor struct{}

func (RedemptionExtractor) Name() string { return "RedemptionExtractor" }

func (RedemptionExtractor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	match := redemptionRe.FindStringSubmatch(f.Event.Body)
	if match == nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "no redemption figure matched"}
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "unparseable redemption amount"}
	}
	if strings.Contains(strings.ToLower(match[0]), "million") {
		amount *= 1_000_000
	}

	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}
	ent, err := research.ByTicker(ctx, ticker)
	if err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	current := 0.0
	if ent.TrustCashTotal != nil {
		current = *ent.TrustCashTotal
	}
	newTotal := current - amount
	if newTotal < 0 {
		newTotal = 0
	}

	if err := repo.Mutate(ctx, ticker, "trust_cash_total", newTotal, "RedemptionExtractor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	_ = notify.Notify(ctx, ticker, "redemption_processed", fmt.Sprintf("%.2f withdrawn", amount))
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: fmt.Sprintf("withdrew %.2f, new trust cash %.2f", amount, newTotal)}
}

// CompletionMonitor reacts to 8-K Item 2.01 filings, marking the business
// combination as completed.
type CompletionMonitor struct{}

func (CompletionMonitor) Name() string { return "CompletionMonitor" }

func (CompletionMonitor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	var successor string
	if m := successorRe.FindStringSubmatch(f.Event.Body); m != nil {
		if m[1] != "" {
			successor = strings.TrimSpace(m[1])
		} else {
			successor = strings.TrimSpace(m[2])
		}
	}

	if err := repo.Mutate(ctx, ticker, "status", entity.StatusCompleted, "CompletionMonitor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}
	if successor != "" {
		if err := repo.Mutate(ctx, ticker, "issued_to", successor, "CompletionMonitor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
			return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
		}
	}

	_ = notify.Notify(ctx, ticker, "business_combination_completed", successor)
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "completed, successor: " + successor}
}

var successorRe = regexp.MustCompile(`(?i)(?:renamed|now known as|new name is)\s+(?:"([^"]{2,60})"|([A-Z][A-Za-z0-9&]{2,60}?)(?:,|\.|\s|$))`)

// S4Processor reacts to S-4/S-4 amendment filings, flagging the filing as
// noteworthy and accelerating polling since these precede a vote.
type S4Processor struct{}

func (S4Processor) Name() string { return "S4Processor" }

func (S4Processor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	accelerateUntil := time.Now().Add(14 * 24 * time.Hour)
	if err := repo.Mutate(ctx, ticker, "accelerated_polling_until", accelerateUntil, "S4Processor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	_ = notify.Notify(ctx, ticker, "s4_filed", f.Event.Entry.FilingType)
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "accelerated polling through " + accelerateUntil.Format("2006-01-02")}
}

// FilingProcessor is the generic catch-all agent for filing types that
// don't warrant a dedicated extractor (10-Q, 10-K, 424B4, S-1): it simply
// confirms the filing was seen. It never mutates entity fields.
type FilingProcessor struct{}

func (FilingProcessor) Name() string { return "FilingProcessor" }

func (FilingProcessor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "logged, no extraction defined for " + f.Event.Entry.FilingType}
}

// trustRe matches "trust account held approximately $X" style phrasing.
var trustRe = regexp.MustCompile(`(?i)trust account\s+(?:held|holds|contained)\s+approximately\s+\$?([\d,]+(?:\.\d+)?)\s*(million)?`)

// TrustAccountProcessor reacts to 10-Q/10-K filings, refreshing the trust
// cash total when the body reports a new figure.
type TrustAccountProcessor struct{}

func (TrustAccountProcessor) Name() string { return "TrustAccountProcessor" }

func (TrustAccountProcessor) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	match := trustRe.FindStringSubmatch(f.Event.Body)
	if match == nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "no trust account figure matched"}
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusSkipped, Detail: "unparseable trust figure"}
	}
	if match[2] != "" {
		amount *= 1_000_000
	}

	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	if err := repo.Mutate(ctx, ticker, "trust_cash_total", amount, "TrustAccountProcessor", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: fmt.Sprintf("trust cash total refreshed to %.2f", amount)}
}

// ipoRe matches "initial public offering of N units" style phrasing in a
// 424B4 prospectus or S-1.
var ipoRe = regexp.MustCompile(`(?i)initial public offering of\s+([\d,]+)\s+units`)

// IPODetector reacts to 424B4/S-1 filings for entities not yet fully
// populated, recording the IPO date and share count.
type IPODetector struct{}

func (IPODetector) Name() string { return "IPODetector" }

func (IPODetector) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	if err := repo.Mutate(ctx, ticker, "ipo_date", f.Event.Entry.FiledAt, "IPODetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	if match := ipoRe.FindStringSubmatch(f.Event.Body); match != nil {
		units, err := strconv.ParseInt(strings.ReplaceAll(match[1], ",", ""), 10, 64)
		if err == nil {
			if err := repo.Mutate(ctx, ticker, "shares_outstanding", units, "IPODetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
				return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
			}
		}
	}

	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "IPO date recorded"}
}

// DelistingDetector reacts to Form 25-NSE filings, marking the entity
// delisted.
type DelistingDetector struct{}

func (DelistingDetector) Name() string { return "DelistingDetector" }

func (DelistingDetector) Process(ctx context.Context, f agentreg.Filing, research agentreg.ResearchPort, notify agentreg.NotifyPort) agentreg.Result {
	ticker := f.Event.Ticker
	repo, ok := research.(entityMutator)
	if !ok {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: fmt.Errorf("agents: research port does not support mutation")}
	}

	if err := repo.Mutate(ctx, ticker, "delisted_date", f.Event.Entry.FiledAt, "DelistingDetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}
	if err := repo.Mutate(ctx, ticker, "status", entity.StatusDelisted, "DelistingDetector", f.Event.FilingID, entity.ChangeTypeFilingExtraction); err != nil {
		return agentreg.Result{Status: agentreg.TaskStatusFailed, Err: err}
	}

	_ = notify.Notify(ctx, ticker, "delisted", f.Event.Entry.FiledAt.Format("2006-01-02"))
	return agentreg.Result{Status: agentreg.TaskStatusCompleted, Detail: "marked delisted"}
}

// entityMutator is the narrow slice of entity.Repository these agents need:
// the single audited mutation entrypoint, plus lookup. Agents depend on
// this rather than the full repository interface.
type entityMutator interface {
	agentreg.ResearchPort
	Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType entity.ChangeType) error
}

func stringOrEmpty(match []string, i int) string {
	if len(match) <= i {
		return ""
	}
	return match[i]
}

func parseFlexibleDate(s string) (time.Time, error) {
	layouts := []string{"January 2, 2006", "January 2 2006", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
