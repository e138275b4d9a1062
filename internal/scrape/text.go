package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// CleanText NFKC-normalizes s and collapses every whitespace run into a
// single space. Non-breaking spaces and full-width forms fold to ASCII.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// selText returns the cleaned text of a selection.
func selText(s *goquery.Selection) string {
	return CleanText(s.Text())
}

// firstText returns the cleaned text of the first element matching any of
// the selectors, tried in order, skipping elements with no text.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = selText(s)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// NormalizeKey turns a detail-table label such as "Effective Date:" into
// "effective_date".
func NormalizeKey(label string) string {
	label = strings.ToLower(CleanText(label))
	label = strings.TrimRight(label, ": ")
	return strings.Join(strings.Fields(label), "_")
}
