// Package fixapplier applies declarative fix templates to a tracked
// entity: conditions gate whether the template applies, changes mutate
// whitelisted fields (optionally via a restricted formula evaluator), and
// post-fix checks decide whether to keep the change or revert it. A
// template only ever runs on explicit approval — the Validation Engine's
// own high-confidence auto-fix path never goes through here.
package fixapplier

import (
	"context"
	"fmt"
	"time"

	"github.com/medxprts/spacmon/pkg/entity"
)

// ConditionOp is a comparison used by both gating Conditions and
// PostFixValidation checks.
type ConditionOp string

const (
	OpAgeLessThan ConditionOp = "age_less_than"
	OpEquals      ConditionOp = "equals"
	OpNotEquals   ConditionOp = "not_equals"
	OpGreaterThan ConditionOp = "greater_than"
	OpIsNull      ConditionOp = "is_null"
)

// Condition is one gate, evaluated against the entity's current field
// values. A missing field the condition needs to read is a failure, not a
// pass — an unresolvable condition never lets a fix through silently.
type Condition struct {
	Field string
	Op    ConditionOp
	Value any
}

// ChangeAction is what a Change does to a field.
type ChangeAction string

const (
	ActionSetValue  ChangeAction = "set_value"
	ActionSetNull   ChangeAction = "set_null"
	ActionCalculate ChangeAction = "calculate"
)

// Change mutates one field. For ActionCalculate, Formula is evaluated in a
// namespace containing only the entity's whitelisted numeric fields.
type Change struct {
	Field   string
	Action  ChangeAction
	Value   any
	Formula string
}

// Template is a named, declarative fix.
type Template struct {
	ID                string
	Conditions        []Condition
	Changes           []Change
	PostFixValidation []Condition
}

// FieldChange records one field's before/after value and how it changed.
type FieldChange struct {
	Old, New any
	Action   ChangeAction
}

// Result is the outcome of running one template against one entity.
type Result struct {
	Ticker       string
	TemplateID   string
	Success      bool
	FieldChanges map[string]FieldChange
	Reason       string
}

// Registry holds templates keyed by id, the same id a validation Issue
// carries as its AutoFixTag.
type Registry struct {
	templates map[string]Template
}

// NewRegistry builds a Registry with the standard template set.
func NewRegistry() *Registry {
	r := &Registry{templates: map[string]Template{}}
	r.Register(resetTrustPerShareTemplate())
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) {
	r.templates[t.ID] = t
}

// resetTrustPerShareTemplate resets trust_per_share to the simple-interest
// approximation of the age-adjusted expected value used by the
// trust_per_share_range validation rule. A true compounding formula needs
// exponentiation, which the restricted evaluator deliberately omits (only
// + - * / ( ) are supported), so this uses the linear approximation
// instead — close enough within the rule's own 5% tolerance band.
func resetTrustPerShareTemplate() Template {
	return Template{
		ID: "reset_trust_per_share_to_expected",
		Conditions: []Condition{
			{Field: "trust_per_share", Op: OpIsNull, Value: false},
		},
		Changes: []Change{
			{Field: "trust_per_share", Action: ActionCalculate, Formula: "10 + 10 * 0.05 * ipo_age_years"},
		},
		PostFixValidation: []Condition{
			{Field: "trust_per_share", Op: OpGreaterThan, Value: 0.0},
		},
	}
}

// Applier runs templates against the entity repository and satisfies
// pkg/reviewqueue.Applier: approving a queued item with an AutoFixTag
// looks up and runs the matching template.
type Applier struct {
	repo     entity.Repository
	registry *Registry
}

// NewApplier creates an Applier.
func NewApplier(repo entity.Repository, registry *Registry) *Applier {
	return &Applier{repo: repo, registry: registry}
}

// Apply looks up the template named by autoFixTag and runs it against
// ticker. ruleCode is accepted for interface compatibility with the review
// queue's audit trail but isn't itself used to select a template — the
// template id is the auto-fix tag, which may differ from the rule code.
func (a *Applier) Apply(ctx context.Context, ticker, ruleCode, autoFixTag string) error {
	if autoFixTag == "" {
		return fmt.Errorf("fixapplier: no auto-fix tag on approved issue for %s/%s", ticker, ruleCode)
	}
	tmpl, ok := a.registry.templates[autoFixTag]
	if !ok {
		return fmt.Errorf("fixapplier: no template registered for tag %q", autoFixTag)
	}
	result, err := a.Run(ctx, ticker, tmpl)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("fixapplier: template %q did not apply to %s: %s", autoFixTag, ticker, result.Reason)
	}
	return nil
}

// Run evaluates tmpl's conditions, applies its changes, runs its post-fix
// checks, and reverts every touched field to its snapshotted value if any
// check fails. entity.Repository doesn't expose a transaction handle, so
// this is a snapshot-and-compensate revert rather than a literal SQL
// transaction — each Mutate call is individually audited either way, and
// a failed post-fix check leaves an extra, clearly-labeled revert row in
// the audit trail rather than silently losing the attempt.
func (a *Applier) Run(ctx context.Context, ticker string, tmpl Template) (*Result, error) {
	source := "FixApplier:" + tmpl.ID

	ent, err := a.repo.ByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	for _, cond := range tmpl.Conditions {
		ok, err := evalCondition(ent, cond)
		if err != nil {
			return &Result{Ticker: ticker, TemplateID: tmpl.ID, Success: false, Reason: err.Error()}, nil
		}
		if !ok {
			return &Result{Ticker: ticker, TemplateID: tmpl.ID, Success: false, Reason: fmt.Sprintf("condition on %s not satisfied", cond.Field)}, nil
		}
	}

	snapshot := map[string]float64{}
	changes := map[string]FieldChange{}
	for _, change := range tmpl.Changes {
		old, hadOld := floatField(ent, change.Field)
		if hadOld {
			snapshot[change.Field] = old
		}

		var newValue float64
		switch change.Action {
		case ActionSetValue:
			v, ok := toFloat(change.Value)
			if !ok {
				return nil, fmt.Errorf("fixapplier: set_value on %s is not numeric", change.Field)
			}
			newValue = v
		case ActionSetNull:
			if err := clearField(ent, change.Field); err != nil {
				return nil, err
			}
			changes[change.Field] = FieldChange{Old: old, New: nil, Action: change.Action}
			if err := a.repo.Mutate(ctx, ticker, change.Field, nil, source, "", entity.ChangeTypeApprovedFix); err != nil {
				return nil, err
			}
			continue
		case ActionCalculate:
			v, err := evalFormula(change.Formula, buildNamespace(ent))
			if err != nil {
				return nil, err
			}
			newValue = v
		default:
			return nil, fmt.Errorf("fixapplier: unknown change action %q", change.Action)
		}

		if err := setFloatField(ent, change.Field, newValue); err != nil {
			return nil, err
		}
		changes[change.Field] = FieldChange{Old: old, New: newValue, Action: change.Action}
		if err := a.repo.Mutate(ctx, ticker, change.Field, newValue, source, "", entity.ChangeTypeApprovedFix); err != nil {
			return nil, err
		}
	}

	for _, check := range tmpl.PostFixValidation {
		ok, err := evalCondition(ent, check)
		if err != nil || !ok {
			a.revert(ctx, ticker, snapshot, source)
			reason := fmt.Sprintf("post-fix check on %s failed", check.Field)
			if err != nil {
				reason = err.Error()
			}
			return &Result{Ticker: ticker, TemplateID: tmpl.ID, Success: false, Reason: reason}, nil
		}
	}

	return &Result{Ticker: ticker, TemplateID: tmpl.ID, Success: true, FieldChanges: changes}, nil
}

func (a *Applier) revert(ctx context.Context, ticker string, snapshot map[string]float64, source string) {
	for field, old := range snapshot {
		_ = a.repo.Mutate(ctx, ticker, field, old, source+":revert", "", entity.ChangeTypeApprovedFix)
	}
}

func evalCondition(e *entity.Entity, c Condition) (bool, error) {
	switch c.Op {
	case OpIsNull:
		wantNull, ok := c.Value.(bool)
		if !ok {
			return false, fmt.Errorf("fixapplier: is_null condition needs a bool value")
		}
		isNull, err := isNilField(e, c.Field)
		if err != nil {
			return false, err
		}
		return isNull == wantNull, nil
	case OpAgeLessThan:
		t, err := timeField(e, c.Field)
		if err != nil {
			return false, err
		}
		days, ok := toFloat(c.Value)
		if !ok {
			return false, fmt.Errorf("fixapplier: age_less_than condition needs a numeric value")
		}
		return time.Since(*t).Hours()/24 < days, nil
	case OpEquals, OpNotEquals, OpGreaterThan:
		v, ok := floatField(e, c.Field)
		if !ok {
			return false, fmt.Errorf("fixapplier: field %q is unset", c.Field)
		}
		want, ok := toFloat(c.Value)
		if !ok {
			return false, fmt.Errorf("fixapplier: condition on %s needs a numeric value", c.Field)
		}
		switch c.Op {
		case OpEquals:
			return v == want, nil
		case OpNotEquals:
			return v != want, nil
		default:
			return v > want, nil
		}
	default:
		return false, fmt.Errorf("fixapplier: unknown condition op %q", c.Op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatField(e *entity.Entity, field string) (float64, bool) {
	switch field {
	case "trust_per_share":
		if e.TrustPerShare != nil {
			return *e.TrustPerShare, true
		}
	case "trust_cash_total":
		if e.TrustCashTotal != nil {
			return *e.TrustCashTotal, true
		}
	case "shares_outstanding":
		if e.SharesOutstanding != nil {
			return float64(*e.SharesOutstanding), true
		}
	case "last_price":
		if e.LastPrice != nil {
			return *e.LastPrice, true
		}
	case "premium_pct":
		if e.PremiumPct != nil {
			return *e.PremiumPct, true
		}
	case "ipo_age_years":
		if e.IPODate != nil {
			return time.Since(*e.IPODate).Hours() / (24 * 365.25), true
		}
		return 0, true
	}
	return 0, false
}

func setFloatField(e *entity.Entity, field string, v float64) error {
	switch field {
	case "trust_per_share":
		e.TrustPerShare = &v
	case "trust_cash_total":
		e.TrustCashTotal = &v
	case "last_price":
		e.LastPrice = &v
	case "premium_pct":
		e.PremiumPct = &v
	case "shares_outstanding":
		iv := int64(v)
		e.SharesOutstanding = &iv
	default:
		return fmt.Errorf("fixapplier: field %q is not settable", field)
	}
	return nil
}

func clearField(e *entity.Entity, field string) error {
	switch field {
	case "trust_per_share":
		e.TrustPerShare = nil
	case "trust_cash_total":
		e.TrustCashTotal = nil
	case "last_price":
		e.LastPrice = nil
	case "premium_pct":
		e.PremiumPct = nil
	case "shares_outstanding":
		e.SharesOutstanding = nil
	case "deal_counterparty":
		e.DealCounterparty = nil
	default:
		return fmt.Errorf("fixapplier: field %q is not settable", field)
	}
	return nil
}

func isNilField(e *entity.Entity, field string) (bool, error) {
	switch field {
	case "trust_per_share":
		return e.TrustPerShare == nil, nil
	case "trust_cash_total":
		return e.TrustCashTotal == nil, nil
	case "last_price":
		return e.LastPrice == nil, nil
	case "premium_pct":
		return e.PremiumPct == nil, nil
	case "shares_outstanding":
		return e.SharesOutstanding == nil, nil
	case "deal_counterparty":
		return e.DealCounterparty == nil, nil
	case "ipo_date":
		return e.IPODate == nil, nil
	case "vote_date":
		return e.VoteDate == nil, nil
	case "extension_deadline":
		return e.ExtensionDeadline == nil, nil
	default:
		return false, fmt.Errorf("fixapplier: unknown field %q", field)
	}
}

func timeField(e *entity.Entity, field string) (*time.Time, error) {
	switch field {
	case "ipo_date":
		if e.IPODate == nil {
			return nil, fmt.Errorf("fixapplier: ipo_date is unset")
		}
		return e.IPODate, nil
	case "announced_date":
		if e.AnnouncedDate == nil {
			return nil, fmt.Errorf("fixapplier: announced_date is unset")
		}
		return e.AnnouncedDate, nil
	case "deal_announced_at":
		if e.DealAnnouncedAt == nil {
			return nil, fmt.Errorf("fixapplier: deal_announced_at is unset")
		}
		return e.DealAnnouncedAt, nil
	default:
		return nil, fmt.Errorf("fixapplier: field %q is not a date", field)
	}
}

func buildNamespace(e *entity.Entity) map[string]float64 {
	ns := map[string]float64{}
	for _, field := range []string{"trust_per_share", "trust_cash_total", "shares_outstanding", "last_price", "premium_pct", "ipo_age_years"} {
		if v, ok := floatField(e, field); ok {
			ns[field] = v
		}
	}
	return ns
}
