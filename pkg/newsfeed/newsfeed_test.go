package newsfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualTriggerSource_SinceReturnsOnlyNewerRecords(t *testing.T) {
	src := NewManualTriggerSource()
	id1 := src.Raise(Trigger{Ticker: "ABCD", Kind: "rumor", OccurredAt: time.Now()})
	id2 := src.Raise(Trigger{Ticker: "EFGH", Kind: "rumor", OccurredAt: time.Now()})

	records, err := src.Since(context.Background(), id1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id2, records[0].ID)
	assert.Equal(t, "EFGH", records[0].Trigger.Ticker)
}

func TestManualTriggerSource_SinceZeroReturnsAll(t *testing.T) {
	src := NewManualTriggerSource()
	src.Raise(Trigger{Ticker: "ABCD"})
	src.Raise(Trigger{Ticker: "EFGH"})

	records, err := src.Since(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
