package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

func sampleRows() []model.CodeRow {
	created := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
	return []model.CodeRow{
		{
			ID: 1, GroupCode: "A", CategoryName: "A Codes", HCPCSCode: "A0001",
			ShortDescription: "Ambulance", LongDescription: "Ambulance service, v1",
			EffectiveDate: model.DatePtr("2020-01-01"), EndDate: model.DatePtr("2022-07-01"),
			StatusCode: "A", CreatedAt: created,
		},
		{
			ID: 2, GroupCode: "A", CategoryName: "A Codes", HCPCSCode: "A0001",
			LongDescription: "Ambulance service, v2", EffectiveDate: model.DatePtr("2022-07-01"),
			CreatedAt: created,
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)

	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, XLSX, f)

	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, sampleRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])

	first := records[1]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "A0001", first[3])
	assert.Equal(t, "Ambulance service, v1", first[5])
	assert.Equal(t, "2020-01-01", first[7])
	assert.Equal(t, "2022-07-01", first[8])
	assert.Equal(t, "A", first[11])

	assert.Equal(t, "", records[2][8], "open row has empty end_date")
	assert.Equal(t, "", records[2][4])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Columns, records[0])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.xlsx")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, Write(out, XLSX, sampleRows()))
	require.NoError(t, out.Close())

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	var header []string
	for _, c := range sheet.Rows[0].Cells {
		header = append(header, c.String())
	}
	assert.Equal(t, Columns, header)

	second := sheet.Rows[2].Cells
	assert.Equal(t, "2", second[0].String())
	assert.Equal(t, "Ambulance service, v2", second[5].String())
	assert.Equal(t, "2022-07-01", second[7].String())
	assert.Equal(t, "2024-03-15T18:30:00Z", second[12].String())
}
