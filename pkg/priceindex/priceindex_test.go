package priceindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullPriceSource_AlwaysReportsNoData(t *testing.T) {
	var src NullPriceSource
	_, err := src.GetCurrent(context.Background(), "ABCD")
	assert.ErrorAs(t, err, &ErrNoData{})
}

func TestRecordedPriceSource_GetCurrentReturnsLatest(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	src := NewRecordedPriceSource(map[string][]Quote{
		"ABCD": {
			{Ticker: "ABCD", Price: 10.0, AsOf: now},
			{Ticker: "ABCD", Price: 10.5, AsOf: now.Add(time.Hour)},
		},
	})

	q, err := src.GetCurrent(context.Background(), "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 10.5, q.Price)
}

func TestRecordedPriceSource_GetHistoryFiltersBySince(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	src := NewRecordedPriceSource(map[string][]Quote{
		"ABCD": {
			{Ticker: "ABCD", Price: 9.0, AsOf: base},
			{Ticker: "ABCD", Price: 9.5, AsOf: base.Add(24 * time.Hour)},
			{Ticker: "ABCD", Price: 10.0, AsOf: base.Add(48 * time.Hour)},
		},
	})

	history, err := src.GetHistory(context.Background(), "ABCD", base.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 9.5, history[0].Price)
}

func TestRecordedPriceSource_RecordAppendsAndKeepsSorted(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	src := NewRecordedPriceSource(nil)
	src.Record(Quote{Ticker: "ABCD", Price: 11.0, AsOf: base.Add(time.Hour)})
	src.Record(Quote{Ticker: "ABCD", Price: 10.0, AsOf: base})

	q, err := src.GetCurrent(context.Background(), "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 11.0, q.Price)
}
