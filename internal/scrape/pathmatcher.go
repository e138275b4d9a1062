package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultCategoryPattern selects category pages on the catalog site.
const DefaultCategoryPattern = "/Codes/*"

// PathMatcher selects URLs whose path matches one of a set of glob patterns.
// A pattern ending in "/*" matches any path with at least one non-empty
// segment below the prefix, at any depth. Matching is case-insensitive.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns (e.g. "/Codes/*").
// Falls back to DefaultCategoryPattern if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = []string{DefaultCategoryPattern}
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// PatternFromPrefix turns a path prefix such as "/Codes/" into a pattern.
func PatternFromPrefix(prefix string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return "/*"
	}
	return prefix + "/*"
}

// Patterns returns the configured patterns, lower-cased.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// Matches reports whether the URL's path matches any pattern. Unparseable
// URLs never match.
func (m *PathMatcher) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.MatchesPath(u.Path)
}

// MatchesPath checks a URL path against all patterns.
func (m *PathMatcher) MatchesPath(urlPath string) bool {
	urlPath = strings.ToLower(strings.TrimRight(urlPath, "/"))
	if urlPath == "" {
		return false
	}
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where "/codes/*" matches
// "/codes/a" and "/codes/a/a0001" but not "/codes" itself.
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		rest, found := strings.CutPrefix(urlPath, prefix+"/")
		return found && rest != ""
	}
	return false
}
