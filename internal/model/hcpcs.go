package model

import (
	"strings"
	"time"
)

// CategoryRef is a category link found on the catalog index page.
type CategoryRef struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// CodeStub is a code row from a category listing, pending detail enrichment.
type CodeStub struct {
	GroupCode        string `json:"group_code,omitempty" yaml:"group_code,omitempty"`
	CategoryName     string `json:"category_name" yaml:"category_name"`
	HCPCSCode        string `json:"hcpcs_code" yaml:"hcpcs_code"`
	ShortDescription string `json:"short_description,omitempty" yaml:"short_description,omitempty"`
	DetailURL        string `json:"detail_url" yaml:"detail_url"`

	// Seq is the global document-order position of the stub within a crawl.
	Seq int `json:"seq" yaml:"seq"`
}

// CodeDetail holds the fields read from a code's detail page. Fields the page
// does not carry stay empty.
type CodeDetail struct {
	LongDescription      string            `json:"long_description,omitempty" yaml:"long_description,omitempty"`
	DetailedDescription  string            `json:"detailed_description,omitempty" yaml:"detailed_description,omitempty"`
	EffectiveDate        *Date             `json:"effective_date,omitempty" yaml:"effective_date,omitempty"`
	EndDate              *Date             `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	ActionCode           string            `json:"action_code,omitempty" yaml:"action_code,omitempty"`
	PricingIndicatorCode string            `json:"pricing_indicator_code,omitempty" yaml:"pricing_indicator_code,omitempty"`
	StatusCode           string            `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Extra                map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ScrapedRecord is the unit handed from the crawler to the reconciler.
type ScrapedRecord struct {
	CodeStub   `yaml:",inline"`
	CodeDetail `yaml:",inline"`

	FetchError string    `json:"fetch_error,omitempty" yaml:"fetch_error,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at" yaml:"scraped_at"`
}

// Failed reports whether the record carries a fetch or extraction error.
func (r ScrapedRecord) Failed() bool {
	return r.FetchError != ""
}

// CodeRow is a persisted row of the hcpcs_codes table.
type CodeRow struct {
	ID                   int64     `json:"id" csv:"id"`
	GroupCode            string    `json:"group_code,omitempty" csv:"group_code"`
	CategoryName         string    `json:"category_name" csv:"category_name"`
	HCPCSCode            string    `json:"hcpcs_code" csv:"hcpcs_code"`
	ShortDescription     string    `json:"short_description,omitempty" csv:"short_description"`
	LongDescription      string    `json:"long_description" csv:"long_description"`
	DetailedDescription  string    `json:"detailed_description,omitempty" csv:"detailed_description"`
	EffectiveDate        *Date     `json:"effective_date,omitempty" csv:"effective_date"`
	EndDate              *Date     `json:"end_date,omitempty" csv:"end_date"`
	ActionCode           string    `json:"action_code,omitempty" csv:"action_code"`
	PricingIndicatorCode string    `json:"pricing_indicator_code,omitempty" csv:"pricing_indicator_code"`
	StatusCode           string    `json:"status_code,omitempty" csv:"status_code"`
	CreatedAt            time.Time `json:"created_at" csv:"created_at"`
}

// Open reports whether the row is the currently active version.
func (r CodeRow) Open() bool {
	return r.EndDate == nil
}

// SameDescription reports whether the row's descriptions match the record's.
// Absent and empty descriptions compare equal.
func (r CodeRow) SameDescription(rec ScrapedRecord) bool {
	return strings.TrimSpace(r.LongDescription) == strings.TrimSpace(rec.LongDescription) &&
		strings.TrimSpace(r.DetailedDescription) == strings.TrimSpace(rec.DetailedDescription)
}

// RowFromRecord builds an unsaved row from a scraped record.
func RowFromRecord(rec ScrapedRecord) CodeRow {
	return CodeRow{
		GroupCode:            rec.GroupCode,
		CategoryName:         rec.CategoryName,
		HCPCSCode:            rec.HCPCSCode,
		ShortDescription:     rec.ShortDescription,
		LongDescription:      rec.LongDescription,
		DetailedDescription:  rec.DetailedDescription,
		EffectiveDate:        rec.EffectiveDate,
		ActionCode:           rec.ActionCode,
		PricingIndicatorCode: rec.PricingIndicatorCode,
		StatusCode:           rec.StatusCode,
	}
}

// Closure ends an open row at the given date.
type Closure struct {
	ID      int64
	Code    string
	EndDate Date
}

// LoadPlan is the set of mutations one reconciliation pass applies atomically.
type LoadPlan struct {
	Closures []Closure
	Inserts  []CodeRow

	// Source, when set, is recorded as loaded in the same transaction.
	Source *LoadedSource
}

// Empty reports whether the plan mutates nothing.
func (p LoadPlan) Empty() bool {
	return len(p.Closures) == 0 && len(p.Inserts) == 0 && p.Source == nil
}

// LoadedSource marks an artifact whose records have been applied.
type LoadedSource struct {
	Name     string     `json:"source"`
	Report   LoadReport `json:"report"`
	LoadedAt time.Time  `json:"loaded_at"`
}

// LoadReport summarizes a reconciliation pass.
type LoadReport struct {
	Inserted  int `json:"inserted"`
	Closed    int `json:"closed"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// Add accumulates another report into r.
func (r *LoadReport) Add(o LoadReport) {
	r.Inserted += o.Inserted
	r.Closed += o.Closed
	r.Unchanged += o.Unchanged
	r.Skipped += o.Skipped
}
