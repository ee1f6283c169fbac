package httpclient

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Exhibit describes one enumerated exhibit on a filing index page.
type Exhibit struct {
	Number      string
	Description string
	URL         string
}

// anchorRe matches a single <a href="...">text</a> anchor. This is a
// deliberately narrow regex/string-scan parser, not a general HTML parser:
// filing index pages are machine-generated and anchor markup is regular
// enough that a full DOM tree is unneeded overhead here.
var anchorRe = regexp.MustCompile(`(?is)<a[^>]+href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)

var tagStripRe = regexp.MustCompile(`(?s)<[^>]+>`)

// primaryDocumentExt lists extensions that plausibly identify a filing's
// main document, in preference order.
var primaryDocumentExt = []string{".htm", ".html", ".txt"}

// ResolvePrimaryDocument fetches index page and selects the URL of the
// filing's main document for the given filing type. Falls back to the
// index URL itself when no confident match is found.
func (c *Client) ResolvePrimaryDocument(ctx context.Context, indexPageURL, filingType string) (string, error) {
	body, err := c.Fetch(ctx, indexPageURL)
	if err != nil {
		return indexPageURL, fmt.Errorf("httpclient: resolve primary document: %w", err)
	}

	base, err := url.Parse(indexPageURL)
	if err != nil {
		return indexPageURL, nil
	}

	anchors := parseAnchors(string(body))
	normalizedType := strings.ToLower(strings.ReplaceAll(filingType, "-", ""))

	var best string
	for _, a := range anchors {
		lowerText := strings.ToLower(a.text)
		lowerHref := strings.ToLower(a.href)
		if !hasAnyExt(lowerHref, primaryDocumentExt) {
			continue
		}
		if strings.Contains(lowerText, normalizedType) || strings.Contains(strings.ReplaceAll(lowerHref, "-", ""), normalizedType) {
			best = a.href
			break
		}
		if best == "" && !strings.Contains(lowerHref, "ex-") && !strings.Contains(lowerHref, "ex_") {
			best = a.href
		}
	}

	if best == "" {
		return indexPageURL, nil
	}
	resolved, err := base.Parse(best)
	if err != nil {
		return indexPageURL, nil
	}
	return resolved.String(), nil
}

// ExtractExhibits enumerates exhibits referenced on a filing index page.
// Used opportunistically by agents that want exhibit URLs; a parse failure
// or empty result is not an error, just an empty list.
func (c *Client) ExtractExhibits(ctx context.Context, indexPageURL string) ([]Exhibit, error) {
	body, err := c.Fetch(ctx, indexPageURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: extract exhibits: %w", err)
	}

	base, err := url.Parse(indexPageURL)
	if err != nil {
		return nil, nil
	}

	var exhibits []Exhibit
	for _, a := range parseAnchors(string(body)) {
		lowerHref := strings.ToLower(a.href)
		if !strings.Contains(lowerHref, "ex-") && !strings.Contains(lowerHref, "ex_") && !strings.Contains(lowerHref, "exhibit") {
			continue
		}
		resolved, err := base.Parse(a.href)
		if err != nil {
			continue
		}
		exhibits = append(exhibits, Exhibit{
			Number:      exhibitNumber(a.href),
			Description: strings.TrimSpace(a.text),
			URL:         resolved.String(),
		})
	}
	return exhibits, nil
}

type anchor struct {
	href string
	text string
}

func parseAnchors(html string) []anchor {
	matches := anchorRe.FindAllStringSubmatch(html, -1)
	anchors := make([]anchor, 0, len(matches))
	for _, m := range matches {
		text := tagStripRe.ReplaceAllString(m[2], " ")
		anchors = append(anchors, anchor{href: strings.TrimSpace(m[1]), text: strings.TrimSpace(text)})
	}
	return anchors
}

func hasAnyExt(s string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

// exhibitNumber pulls a short exhibit number out of a filename:
// ".../ex-99d1.htm" gives "99.1", while ".../ex991.htm", which has no
// separator between the parts, gives "991".
var exhibitNumberRe = regexp.MustCompile(`(?i)ex[-_]?(\d+)[d._]?(\d+)?`)

func exhibitNumber(href string) string {
	m := exhibitNumberRe.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "." + m[2]
	}
	return m[1]
}
