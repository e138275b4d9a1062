package scrape

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Recognized detail-table keys, after NormalizeKey.
const (
	keyEffectiveDate   = "effective_date"
	keyEndDate         = "end_date"
	keyTerminationDate = "termination_date"
	keyActionCode      = "action_code"
	keyPricingIndCode  = "pricing_indicator_code"
	keyStatusCode      = "status_code"
)

// Detail extracts a code's detail page. Missing elements leave the matching
// field empty; it never fails.
func (e *Extractor) Detail(html string) model.CodeDetail {
	var d model.CodeDetail

	doc, err := parseDocument(html)
	if err != nil {
		zap.L().Warn("scrape: unparseable detail page", zap.Error(err))
		return d
	}

	d.LongDescription = firstText(doc, "h1", "h2")
	d.DetailedDescription = firstText(doc, "p")

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Children().Filter("th, td")
		if cells.Length() != 2 {
			return
		}
		key := NormalizeKey(cells.First().Text())
		if key == "" {
			return
		}
		setField(&d, key, selText(cells.Last()))
	})
	return d
}

// setField lifts a recognized key into its typed field and files anything
// else under Extra. The first non-empty value for a key wins, and Extra never
// shadows a typed field.
func setField(d *model.CodeDetail, key, value string) {
	if value == "" {
		return
	}
	switch key {
	case keyEffectiveDate:
		if d.EffectiveDate == nil {
			d.EffectiveDate = ParseDate(value)
		}
	case keyEndDate, keyTerminationDate:
		if d.EndDate == nil {
			d.EndDate = ParseDate(value)
		}
	case keyActionCode:
		if d.ActionCode == "" {
			d.ActionCode = value
		}
	case keyPricingIndCode:
		if d.PricingIndicatorCode == "" {
			d.PricingIndicatorCode = value
		}
	case keyStatusCode:
		if d.StatusCode == "" {
			d.StatusCode = value
		}
	default:
		if d.Extra == nil {
			d.Extra = make(map[string]string)
		}
		if _, seen := d.Extra[key]; !seen {
			d.Extra[key] = value
		}
	}
}
