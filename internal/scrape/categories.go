package scrape

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Categories returns the category links on the index page in document order.
// A page with no matching links yields an empty slice, not an error. Links
// are not deduplicated.
func (e *Extractor) Categories(html string) ([]model.CategoryRef, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	refs := []model.CategoryRef{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := e.resolve(href)
		if !ok || !e.sameHost(abs) || !e.matcher.Matches(abs) {
			return
		}
		name := selText(a)
		if name == "" {
			name = lastSegment(abs)
		}
		refs = append(refs, model.CategoryRef{Name: name, URL: abs})
	})
	return refs, nil
}

func (e *Extractor) sameHost(abs string) bool {
	u, err := url.Parse(abs)
	return err == nil && strings.EqualFold(u.Host, e.base.Host)
}

func lastSegment(abs string) string {
	u, err := url.Parse(abs)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	return CleanText(seg)
}
