// Package export writes persisted code rows as CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Format is an export encoding.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// SheetName is the worksheet name used for XLSX exports.
const SheetName = "hcpcs_codes"

// Columns is the export column order, matching the table.
var Columns = []string{
	"id", "group_code", "category_name", "hcpcs_code", "short_description",
	"long_description", "detailed_description", "effective_date", "end_date",
	"action_code", "pricing_indicator_code", "status_code", "created_at",
}

// ParseFormat validates a format name. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Write encodes rows to w in the given format.
func Write(w io.Writer, f Format, rows []model.CodeRow) error {
	switch f {
	case XLSX:
		return WriteXLSX(w, rows)
	default:
		return WriteCSV(w, rows)
	}
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, rows []model.CodeRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(model.CodeRow{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return eris.Wrapf(err, "export: csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: csv flush")
}

// WriteXLSX writes a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, rows []model.CodeRow) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: xlsx add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range rowValues(r) {
			row.AddCell().SetString(v)
		}
	}

	return eris.Wrap(file.Write(w), "export: xlsx write")
}

// rowValues renders a row in Columns order.
func rowValues(r model.CodeRow) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.GroupCode,
		r.CategoryName,
		r.HCPCSCode,
		r.ShortDescription,
		r.LongDescription,
		r.DetailedDescription,
		dateString(r.EffectiveDate),
		dateString(r.EndDate),
		r.ActionCode,
		r.PricingIndicatorCode,
		r.StatusCode,
		r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}
