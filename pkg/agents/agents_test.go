package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/filing"
)

type mutateCall struct {
	ticker, field string
	newValue      any
}

type fakeMutator struct {
	entities map[string]*entity.Entity
	calls    []mutateCall
}

func (m *fakeMutator) ByTicker(ctx context.Context, ticker string) (*entity.Entity, error) {
	e, ok := m.entities[ticker]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e, nil
}

func (m *fakeMutator) Fetch(ctx context.Context, url string) ([]byte, error) { return nil, nil }

func (m *fakeMutator) Mutate(ctx context.Context, ticker, field string, newValue any, source, filingRef string, changeType entity.ChangeType) error {
	m.calls = append(m.calls, mutateCall{ticker, field, newValue})
	return nil
}

type fakeNotify struct{ calls []string }

func (n *fakeNotify) Notify(ctx context.Context, ticker, kind, detail string) error {
	n.calls = append(n.calls, kind)
	return nil
}

func TestDealDetector_ExtractsCounterpartyAndAdvancesStatus(t *testing.T) {
	m := &fakeMutator{entities: map[string]*entity.Entity{"ABCD": {Ticker: "ABCD"}}}
	n := &fakeNotify{}
	f := agentreg.Filing{Event: filing.Event{
		Ticker: "ABCD",
		Body:   "The Company entered into a Merger Agreement with Acme Robotics Inc. pursuant to which...",
	}}

	result := DealDetector{}.Process(context.Background(), f, m, n)

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 3)
	assert.Equal(t, "deal_counterparty", m.calls[0].field)
	assert.Contains(t, m.calls[0].newValue, "Acme Robotics Inc")
	assert.Equal(t, "status", m.calls[2].field)
	assert.Equal(t, entity.StatusAnnounced, m.calls[2].newValue)
	assert.Equal(t, []string{"deal_announced"}, n.calls)
}

func TestDealDetector_SkipsWhenNoCounterpartyPhrase(t *testing.T) {
	m := &fakeMutator{entities: map[string]*entity.Entity{"ABCD": {Ticker: "ABCD"}}}
	f := agentreg.Filing{Event: filing.Event{Ticker: "ABCD", Body: "unrelated filing text"}}

	result := DealDetector{}.Process(context.Background(), f, m, &fakeNotify{})

	assert.Equal(t, agentreg.TaskStatusSkipped, result.Status)
	assert.Empty(t, m.calls)
}

func TestExtensionMonitor_ExtractsDeadlineAndAcceleratesPolling(t *testing.T) {
	m := &fakeMutator{}
	f := agentreg.Filing{Event: filing.Event{
		Ticker: "ABCD",
		Body:   "The Company has extended the deadline to complete a business combination to December 31, 2026.",
	}}

	result := ExtensionMonitor{}.Process(context.Background(), f, m, &fakeNotify{})

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 2)
	assert.Equal(t, "extension_deadline", m.calls[0].field)
	deadline, ok := m.calls[0].newValue.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2026, deadline.Year())
	assert.Equal(t, "accelerated_polling_until", m.calls[1].field)
}

func TestRedemptionExtractor_SubtractsFromTrustCashTotal(t *testing.T) {
	trust := 100_000_000.0
	m := &fakeMutator{entities: map[string]*entity.Entity{"ABCD": {Ticker: "ABCD", TrustCashTotal: &trust}}}
	f := agentreg.Filing{Event: filing.Event{
		Ticker: "ABCD",
		Body:   "approximately $10 million was withdrawn from the trust account in connection with the redemptions.",
	}}

	result := RedemptionExtractor{}.Process(context.Background(), f, m, &fakeNotify{})

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 1)
	assert.Equal(t, "trust_cash_total", m.calls[0].field)
	assert.Equal(t, 90_000_000.0, m.calls[0].newValue)
}

func TestCompletionMonitor_SetsIssuedToWhenSuccessorNamed(t *testing.T) {
	m := &fakeMutator{}
	f := agentreg.Filing{Event: filing.Event{
		Ticker: "ABCD",
		Body:   `The combined company will be renamed "NewCo Holdings" upon closing.`,
	}}

	result := CompletionMonitor{}.Process(context.Background(), f, m, &fakeNotify{})

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 2)
	assert.Equal(t, "status", m.calls[0].field)
	assert.Equal(t, "issued_to", m.calls[1].field)
	assert.Equal(t, "NewCo Holdings", m.calls[1].newValue)
}

func TestCompletionMonitor_SkipsIssuedToWhenNoSuccessorNamed(t *testing.T) {
	m := &fakeMutator{}
	f := agentreg.Filing{Event: filing.Event{Ticker: "ABCD", Body: "the merger closed today."}}

	result := CompletionMonitor{}.Process(context.Background(), f, m, &fakeNotify{})

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 1)
	assert.Equal(t, "status", m.calls[0].field)
}

func TestFilingProcessor_AlwaysCompletesWithoutMutating(t *testing.T) {
	m := &fakeMutator{}
	f := agentreg.Filing{Event: filing.Event{Ticker: "ABCD", Entry: filing.Entry{FilingType: "10-K"}}}

	result := FilingProcessor{}.Process(context.Background(), f, m, &fakeNotify{})

	assert.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	assert.Empty(t, m.calls)
}

func TestDelistingDetector_MarksDelisted(t *testing.T) {
	m := &fakeMutator{}
	f := agentreg.Filing{Event: filing.Event{Ticker: "ABCD"}}

	result := DelistingDetector{}.Process(context.Background(), f, m, &fakeNotify{})

	require.Equal(t, agentreg.TaskStatusCompleted, result.Status)
	require.Len(t, m.calls, 2)
	assert.Equal(t, "status", m.calls[1].field)
	assert.Equal(t, entity.StatusDelisted, m.calls[1].newValue)
}
