package scrape

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Listing returns one stub per usable row of the category page's primary
// table, in document order. Rows with fewer than two cells or no detail link
// in the first cell are skipped. Duplicate codes are kept.
func (e *Extractor) Listing(html, categoryName string) []model.CodeStub {
	log := zap.L().With(zap.String("component", "scrape.listing"), zap.String("category", categoryName))

	doc, err := parseDocument(html)
	if err != nil {
		log.Warn("unparseable listing page", zap.Error(err))
		return nil
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		log.Debug("listing page has no table")
		return nil
	}

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		rows = table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Children().Filter("td").Length() > 0
		})
	}

	stubs := []model.CodeStub{}
	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.Children().Filter("td, th")
		if cells.Length() < 2 {
			log.Debug("skipping listing row", zap.Int("row", i), zap.String("reason", "fewer than two cells"))
			return
		}

		first := cells.First()
		anchor := first.Find("a[href]").First()
		href, _ := anchor.Attr("href")
		detailURL, ok := e.resolve(href)
		if !ok {
			log.Debug("skipping listing row", zap.Int("row", i), zap.String("reason", "no detail link"))
			return
		}

		code := strings.ToUpper(selText(anchor))
		if code == "" {
			code = strings.ToUpper(selText(first))
		}
		if code == "" {
			log.Debug("skipping listing row", zap.Int("row", i), zap.String("reason", "empty code"))
			return
		}

		stubs = append(stubs, model.CodeStub{
			GroupCode:        e.groupCode(categoryName, code),
			CategoryName:     categoryName,
			HCPCSCode:        code,
			ShortDescription: selText(cells.Eq(1)),
			DetailURL:        detailURL,
		})
	})
	return stubs
}

// groupCode derives the single-letter group per the configured policy.
// It is empty when the source has no uppercase letter to offer.
func (e *Extractor) groupCode(categoryName, code string) string {
	src := categoryName
	if e.group == GroupFromCode {
		src = code
	}
	for _, r := range src {
		if unicode.IsUpper(r) {
			return string(r)
		}
	}
	return ""
}
