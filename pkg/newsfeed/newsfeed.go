// Package newsfeed defines the event-trigger port the scheduler consumes
// to raise accelerated-polling windows ahead of a filing arriving — e.g. a
// wire headline about a rumored deal. Wiring an actual news vendor is out
// of scope; this package ships the interface and a manual trigger source
// useful for tests and operator-driven overrides.
package newsfeed

import (
	"context"
	"sync"
	"time"
)

// Trigger is a single external signal worth accelerating polling for.
type Trigger struct {
	Ticker    string
	Kind      string
	Detail    string
	OccurredAt time.Time
}

// EventTrigger is the read port the scheduler polls for new triggers since
// a given id. Consumers advance the cursor by id after processing.
type EventTrigger interface {
	Since(ctx context.Context, lastID int64) ([]TriggerRecord, error)
}

// TriggerRecord pairs a Trigger with its monotonic id for cursoring.
type TriggerRecord struct {
	ID      int64
	Trigger Trigger
}

// ManualTriggerSource is an in-memory EventTrigger fed by explicit Raise
// calls — an operator command or a test, not a vendor feed.
type ManualTriggerSource struct {
	mu      sync.Mutex
	records []TriggerRecord
	nextID  int64
}

// NewManualTriggerSource creates an empty ManualTriggerSource.
func NewManualTriggerSource() *ManualTriggerSource {
	return &ManualTriggerSource{}
}

// Raise records a new trigger and returns its id.
func (m *ManualTriggerSource) Raise(t Trigger) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records = append(m.records, TriggerRecord{ID: m.nextID, Trigger: t})
	return m.nextID
}

// Since returns every recorded trigger with an id greater than lastID.
func (m *ManualTriggerSource) Since(ctx context.Context, lastID int64) ([]TriggerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TriggerRecord, 0)
	for _, r := range m.records {
		if r.ID > lastID {
			out = append(out, r)
		}
	}
	return out, nil
}
