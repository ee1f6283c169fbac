package filing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>8-K - Acme Acquisition Corp (0001234567) (Filer)</title>
    <updated>2026-07-15T16:30:00-04:00</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/1234567/000123456726000045-index.htm" rel="alternate" type="text/html"/>
  </entry>
  <entry>
    <title>Missing link entry</title>
    <updated>2026-07-15T16:30:00-04:00</updated>
  </entry>
</feed>`

func TestParseAtomEntries_ExtractsTitleTypeAccessionAndTimestamp(t *testing.T) {
	entries := parseAtomEntries(sampleAtomFeed)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "8-K", e.FilingType)
	assert.Equal(t, "0001234567-26-000045", e.AccessionNo)
	assert.Contains(t, e.Title, "Acme Acquisition Corp")
	assert.False(t, e.FiledAt.IsZero())
}

func TestParseAtomEntries_SkipsEntriesMissingRequiredFields(t *testing.T) {
	entries := parseAtomEntries(`<feed><entry><title>no link or date</title></entry></feed>`)
	assert.Empty(t, entries)
}

func TestParseAtomEntries_EmptyBodyReturnsNoEntries(t *testing.T) {
	assert.Empty(t, parseAtomEntries(""))
}
