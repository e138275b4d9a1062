// Package scrape turns the catalog's three page shapes (category index, code
// listing, code detail) into typed records.
package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the catalog site.
const DefaultBaseURL = "https://www.hcpcsdata.com"

// GroupPolicy selects where a stub's group code comes from.
type GroupPolicy string

const (
	// GroupFromCategory takes the first uppercase letter of the category name.
	GroupFromCategory GroupPolicy = "category"
	// GroupFromCode takes the leading letter of the HCPCS code.
	GroupFromCode GroupPolicy = "code"
)

// ParseGroupPolicy validates a policy name. Empty means GroupFromCategory.
func ParseGroupPolicy(s string) (GroupPolicy, error) {
	switch GroupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupFromCategory:
		return GroupFromCategory, nil
	case GroupFromCode:
		return GroupFromCode, nil
	default:
		return "", eris.Errorf("scrape: unknown group policy %q", s)
	}
}

// Options configures an Extractor.
type Options struct {
	BaseURL        string
	CategoryPrefix string
	GroupPolicy    GroupPolicy
}

// Extractor parses catalog pages. It holds no per-page state and is safe for
// concurrent use.
type Extractor struct {
	base    *url.URL
	matcher *PathMatcher
	group   GroupPolicy
}

// NewExtractor creates an Extractor. Relative links are resolved against
// BaseURL.
func NewExtractor(opts Options) (*Extractor, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: parse base url %q", opts.BaseURL)
	}
	if !isHTTP(base) {
		return nil, eris.Errorf("scrape: base url %q must be absolute http(s)", opts.BaseURL)
	}

	var patterns []string
	if opts.CategoryPrefix != "" {
		patterns = []string{PatternFromPrefix(opts.CategoryPrefix)}
	}

	group, err := ParseGroupPolicy(string(opts.GroupPolicy))
	if err != nil {
		return nil, err
	}

	return &Extractor{
		base:    base,
		matcher: NewPathMatcher(patterns),
		group:   group,
	}, nil
}

// Base returns the URL relative links are resolved against.
func (e *Extractor) Base() *url.URL {
	return e.base
}

// resolve makes href absolute against the base. It reports false for empty
// hrefs, fragments, and anything that does not end up http(s).
func (e *Extractor) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := e.base.ResolveReference(ref)
	if !isHTTP(abs) {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}
	return doc, nil
}
