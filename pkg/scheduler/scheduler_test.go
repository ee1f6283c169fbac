package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medxprts/spacmon/pkg/config"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskGate_DueWhenNeverRun(t *testing.T) {
	gate, err := newTaskGate("daily", "0 13 * * *")
	require.NoError(t, err)
	assert.True(t, gate.due(time.Time{}, time.Now()))
}

func TestTaskGate_NotDueBeforeNextScheduledTime(t *testing.T) {
	gate, err := newTaskGate("daily", "0 13 * * *")
	require.NoError(t, err)
	lastRun := time.Date(2026, 7, 31, 13, 5, 0, 0, time.UTC)
	now := time.Date(2026, 7, 31, 18, 0, 0, 0, time.UTC)
	assert.False(t, gate.due(lastRun, now))
}

func TestTaskGate_DueAfterNextScheduledTime(t *testing.T) {
	gate, err := newTaskGate("daily", "0 13 * * *")
	require.NoError(t, err)
	lastRun := time.Date(2026, 7, 31, 13, 5, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 13, 1, 0, 0, time.UTC)
	assert.True(t, gate.due(lastRun, now))
}

func TestScheduler_InMarketHoursWeekdayWithinWindow(t *testing.T) {
	s := &Scheduler{marketHours: config.DefaultMarketHoursConfig(), log: noopLogger()}
	loc, _ := time.LoadLocation("America/New_York")
	wednesday := time.Date(2026, 7, 29, 10, 0, 0, 0, loc)
	assert.True(t, s.inMarketHours(wednesday))
}

func TestScheduler_NotInMarketHoursOnWeekend(t *testing.T) {
	s := &Scheduler{marketHours: config.DefaultMarketHoursConfig(), log: noopLogger()}
	loc, _ := time.LoadLocation("America/New_York")
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, loc)
	assert.False(t, s.inMarketHours(saturday))
}

func TestScheduler_NotInMarketHoursAfterClose(t *testing.T) {
	s := &Scheduler{marketHours: config.DefaultMarketHoursConfig(), log: noopLogger()}
	loc, _ := time.LoadLocation("America/New_York")
	evening := time.Date(2026, 7, 29, 20, 0, 0, 0, loc)
	assert.False(t, s.inMarketHours(evening))
}

func TestScheduler_NilMarketHoursAlwaysOpen(t *testing.T) {
	s := &Scheduler{log: noopLogger()}
	assert.True(t, s.inMarketHours(time.Now()))
}
