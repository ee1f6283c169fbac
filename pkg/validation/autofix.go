package validation

import (
	"context"
	"log/slog"

	"github.com/medxprts/spacmon/pkg/entity"
)

// autoFixSource identifies autofix-originated mutations in the audit trail.
const autoFixSource = "ValidationEngine"

// autoFixFn applies a deterministic, high-confidence fix for one entity.
type autoFixFn func(ctx context.Context, repo entity.Repository, e *entity.Entity) error

var autoFixes = map[string]autoFixFn{
	"recompute_premium": fixRecomputePremium,
}

func fixRecomputePremium(ctx context.Context, repo entity.Repository, e *entity.Entity) error {
	recomputed, ok := e.Premium()
	if !ok {
		return nil
	}
	return repo.Mutate(ctx, e.Ticker, "premium_pct", recomputed*100, autoFixSource, "", entity.ChangeTypeApprovedFix)
}

// ApplyAutoFixes applies every issue whose confidence is High and whose
// AutoFixTag names a known deterministic fix, fetching the current entity
// fresh before each fix so the computation reflects the latest state.
// Everything else (low/medium confidence, or no tag) is returned unchanged
// for the caller to route to the Review Queue.
func ApplyAutoFixes(ctx context.Context, repo entity.Repository, issues []Issue, log *slog.Logger) (applied, deferred []Issue) {
	for _, issue := range issues {
		if issue.Confidence != ConfidenceHigh || issue.AutoFixTag == "" {
			deferred = append(deferred, issue)
			continue
		}
		fix, ok := autoFixes[issue.AutoFixTag]
		if !ok {
			deferred = append(deferred, issue)
			continue
		}
		ent, err := repo.ByTicker(ctx, issue.Ticker)
		if err != nil {
			log.Warn("auto-fix lookup failed", "ticker", issue.Ticker, "tag", issue.AutoFixTag, "error", err)
			deferred = append(deferred, issue)
			continue
		}
		if err := fix(ctx, repo, ent); err != nil {
			log.Warn("auto-fix apply failed", "ticker", issue.Ticker, "tag", issue.AutoFixTag, "error", err)
			deferred = append(deferred, issue)
			continue
		}
		applied = append(applied, issue)
	}
	return applied, deferred
}
