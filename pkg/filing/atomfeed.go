package filing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/medxprts/spacmon/pkg/httpclient"
)

// AtomFeedSource polls a regulator's per-identifier Atom filing feed over
// HTTP and parses it with a deliberately small regex/string-scan reader,
// not a general XML/Atom library — none appears anywhere in the retrieved
// pack, so this follows the same stdlib-only approach already used for
// pkg/httpclient's index-page parser.
type AtomFeedSource struct {
	http *httpclient.Client
	// URLTemplate is formatted with the entity's CIK via fmt.Sprintf, e.g.
	// "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=8-K&output=atom".
	URLTemplate string
}

// NewAtomFeedSource creates an AtomFeedSource.
func NewAtomFeedSource(httpClient *httpclient.Client, urlTemplate string) *AtomFeedSource {
	return &AtomFeedSource{http: httpClient, URLTemplate: urlTemplate}
}

func (a *AtomFeedSource) Poll(ctx context.Context, cik string) ([]Entry, error) {
	url := fmt.Sprintf(a.URLTemplate, cik)
	body, err := a.http.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("filing: fetching atom feed for cik %s: %w", cik, err)
	}
	return parseAtomEntries(string(body)), nil
}

var (
	entryRe    = regexp.MustCompile(`(?is)<entry>(.*?)</entry>`)
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	updatedRe  = regexp.MustCompile(`(?is)<updated[^>]*>(.*?)</updated>`)
	linkHrefRe = regexp.MustCompile(`(?is)<link[^>]+href\s*=\s*["']([^"']+)["']`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]+>`)
	accessionRe = regexp.MustCompile(`(\d{10})-?(\d{2})-?(\d{6})`)
	typeRe      = regexp.MustCompile(`^\s*([A-Za-z0-9/-]+)\s*-`)
)

// parseAtomEntries extracts filing entries from an Atom feed body. Entries
// that fail to parse a usable title/link/timestamp are skipped rather than
// aborting the whole feed.
func parseAtomEntries(body string) []Entry {
	var entries []Entry
	for _, block := range entryRe.FindAllStringSubmatch(body, -1) {
		raw := block[1]

		titleMatch := titleRe.FindStringSubmatch(raw)
		linkMatch := linkHrefRe.FindStringSubmatch(raw)
		updatedMatch := updatedRe.FindStringSubmatch(raw)
		if titleMatch == nil || linkMatch == nil || updatedMatch == nil {
			continue
		}

		title := strings.TrimSpace(tagRe.ReplaceAllString(titleMatch[1], " "))
		indexURL := strings.TrimSpace(linkMatch[1])
		filedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(updatedMatch[1]))
		if err != nil {
			continue
		}

		filingType := ""
		if m := typeRe.FindStringSubmatch(title); m != nil {
			filingType = strings.ToUpper(m[1])
		}

		accession := ""
		if m := accessionRe.FindStringSubmatch(indexURL); m != nil {
			accession = m[1] + "-" + m[2] + "-" + m[3]
		}

		entries = append(entries, Entry{
			Title:       title,
			FilingType:  filingType,
			FiledAt:     filedAt,
			IndexURL:    indexURL,
			AccessionNo: accession,
		})
	}
	return entries
}
