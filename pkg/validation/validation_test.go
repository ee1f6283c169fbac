package validation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/entity"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func TestRuleNumericNonNegative_FlagsNegativeTrustPerShare(t *testing.T) {
	e := &entity.Entity{Ticker: "ABCD", TrustPerShare: ptr(-1.0)}
	issues := ruleNumericNonNegative(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
	assert.Equal(t, "trust_per_share", issues[0].Field)
}

func TestRuleDealStatusConsistency_AnnouncedWithoutCounterparty(t *testing.T) {
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusAnnounced}
	issues := ruleDealStatusConsistency(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryBusinessLifecycle, issues[0].Category)
}

func TestRuleDealStatusConsistency_SearchingWithCounterpartyIsFlagged(t *testing.T) {
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusSearching, DealCounterparty: ptr("SomeCo")}
	issues := ruleDealStatusConsistency(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
}

func TestRuleTemporalOrdering_AnnouncedBeforeIPOIsFlagged(t *testing.T) {
	ipo := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	announced := ipo.Add(-24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", IPODate: &ipo, AnnouncedDate: &announced}
	issues := ruleTemporalOrdering(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
	assert.Equal(t, "announced_date", issues[0].Field)
}

func TestRuleTemporalOrdering_ValidOrderingProducesNoIssue(t *testing.T) {
	ipo := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	announced := ipo.Add(48 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", IPODate: &ipo, AnnouncedDate: &announced}
	assert.Empty(t, ruleTemporalOrdering(e, time.Now(), config.DefaultDefaults()))
}

func TestRulePremiumCalculation_FlagsDeviationAboveHalfPoint(t *testing.T) {
	e := &entity.Entity{
		Ticker:        "ABCD",
		LastPrice:     ptr(11.0),
		TrustPerShare: ptr(10.0),
		PremiumPct:    ptr(5.0), // recomputed is 10.0; diff is 5pp
	}
	issues := rulePremiumCalculation(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
	assert.Equal(t, "recompute_premium", issues[0].AutoFixTag)
	assert.Equal(t, ConfidenceHigh, issues[0].Confidence)
}

func TestRulePremiumCalculation_WithinToleranceProducesNoIssue(t *testing.T) {
	e := &entity.Entity{
		Ticker:        "ABCD",
		LastPrice:     ptr(11.0),
		TrustPerShare: ptr(10.0),
		PremiumPct:    ptr(10.0),
	}
	assert.Empty(t, rulePremiumCalculation(e, time.Now(), config.DefaultDefaults()))
}

func TestRuleTrustPerShareRange_FlagsOutOfBandValue(t *testing.T) {
	ipo := time.Now().Add(-365 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", IPODate: &ipo, TrustPerShare: ptr(20.0)}
	issues := ruleTrustPerShareRange(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
}

func TestRuleTrustPerShareRange_NoIPODateUsesTenDollarBaseline(t *testing.T) {
	e := &entity.Entity{Ticker: "ABCD", TrustPerShare: ptr(10.02)}
	assert.Empty(t, ruleTrustPerShareRange(e, time.Now(), config.DefaultDefaults()))
}

func TestRuleDeadlinePassed_FlagsCriticalWhenDeadlineElapsed(t *testing.T) {
	deadline := time.Now().Add(-10 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusAnnounced, ExtensionDeadline: &deadline}
	issues := ruleDeadlinePassed(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityCritical, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "Deadline Passed (Deal Should Be Completed)")
	assert.Contains(t, issues[0].Message, "days_past_deadline=10")
}

func TestRuleDeadlinePassed_NotFlaggedBeforeDeadline(t *testing.T) {
	deadline := time.Now().Add(10 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusAnnounced, ExtensionDeadline: &deadline}
	assert.Empty(t, ruleDeadlinePassed(e, time.Now(), config.DefaultDefaults()))
}

func TestRuleDeadlinePassed_NotFlaggedOnceCompleted(t *testing.T) {
	deadline := time.Now().Add(-10 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusCompleted, ExtensionDeadline: &deadline}
	assert.Empty(t, ruleDeadlinePassed(e, time.Now(), config.DefaultDefaults()))
}

func TestRuleStaleAnnouncedDeal_FlagsNoVoteNoExtension(t *testing.T) {
	announced := time.Now().Add(-60 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusAnnounced, DealAnnouncedAt: &announced}
	issues := ruleStaleAnnouncedDeal(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
}

func TestRuleStaleAnnouncedDeal_NotFlaggedWithScheduledVote(t *testing.T) {
	announced := time.Now().Add(-60 * 24 * time.Hour)
	vote := time.Now().Add(10 * 24 * time.Hour)
	e := &entity.Entity{Ticker: "ABCD", Status: entity.StatusAnnounced, DealAnnouncedAt: &announced, VoteDate: &vote}
	assert.Empty(t, ruleStaleAnnouncedDeal(e, time.Now(), config.DefaultDefaults()))
}

func TestRuleTickerIdentityFormat_FlagsLowercase(t *testing.T) {
	e := &entity.Entity{Ticker: "abcd"}
	issues := ruleTickerIdentityFormat(e, time.Now(), config.DefaultDefaults())
	require.Len(t, issues, 1)
}

func TestEngine_RunAll_PromotesRecurringPattern(t *testing.T) {
	cfg := config.DefaultDefaults()
	cfg.RecurringPatternThreshold = 2
	engine := NewEngine(cfg, nil)

	entities := []*entity.Entity{
		{Ticker: "AAAA", Status: entity.StatusAnnounced},
		{Ticker: "BBBB", Status: entity.StatusAnnounced},
	}
	_, patterns := engine.RunAll(context.Background(), entities)
	require.Len(t, patterns, 1)
	assert.Equal(t, "deal_status_consistency", patterns[0].RuleCode)
	assert.Equal(t, 2, patterns[0].Occurrences)
}

func TestApplyAutoFixes_AppliesHighConfidenceTaggedIssue(t *testing.T) {
	ent := &entity.Entity{Ticker: "ABCD", LastPrice: ptr(11.0), TrustPerShare: ptr(10.0)}
	repo := &fakeFixRepo{entities: map[string]*entity.Entity{"ABCD": ent}}

	issues := []Issue{{Ticker: "ABCD", AutoFixTag: "recompute_premium", Confidence: ConfidenceHigh}}
	applied, deferred := ApplyAutoFixes(context.Background(), repo, issues, noopLogger())

	assert.Len(t, applied, 1)
	assert.Empty(t, deferred)
	require.Len(t, repo.calls, 1)
	assert.Equal(t, "premium_pct", repo.calls[0].field)
	assert.InDelta(t, 10.0, repo.calls[0].newValue, 0.0001)
}

func TestApplyAutoFixes_DefersLowConfidenceIssue(t *testing.T) {
	issues := []Issue{{Ticker: "ABCD", AutoFixTag: "", Confidence: ConfidenceMedium}}
	applied, deferred := ApplyAutoFixes(context.Background(), &fakeFixRepo{}, issues, noopLogger())
	assert.Empty(t, applied)
	assert.Len(t, deferred, 1)
}

type fixCall struct {
	ticker, field string
	newValue      any
}

type fakeFixRepo struct {
	entities map[string]*entity.Entity
	calls    []fixCall
}

func (r *fakeFixRepo) ByTicker(ctx context.Context, ticker string) (*entity.Entity, error) {
	e, ok := r.entities[ticker]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e, nil
}
func (r *fakeFixRepo) ByCIK(ctx context.Context, cik string) (*entity.Entity, error) { return nil, entity.ErrNotFound }
func (r *fakeFixRepo) ListByStatus(ctx context.Context, statuses ...entity.Status) ([]*entity.Entity, error) {
	return nil, nil
}
func (r *fakeFixRepo) ListWhere(ctx context.Context, predicate entity.Predicate) ([]*entity.Entity, error) {
	return nil, nil
}
func (r *fakeFixRepo) Create(ctx context.Context, e *entity.Entity) error { return nil }
func (r *fakeFixRepo) Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType entity.ChangeType) error {
	r.calls = append(r.calls, fixCall{ticker, field, newValue})
	return nil
}
