package store

import (
	"strconv"
	"strings"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

const table = "hcpcs_codes"

// insertColumns are written by the loader; id and created_at are assigned by
// the database.
var insertColumns = []string{
	"group_code",
	"category_name",
	"hcpcs_code",
	"short_description",
	"long_description",
	"detailed_description",
	"effective_date",
	"end_date",
	"action_code",
	"pricing_indicator_code",
	"status_code",
}

var selectColumns = "id, " + strings.Join(insertColumns, ", ") + ", created_at"

// Queries are written with ? placeholders; the Postgres store rebinds them.
const (
	qOpenRowsIn  = `SELECT %s FROM hcpcs_codes WHERE end_date IS NULL AND hcpcs_code IN (%s) ORDER BY hcpcs_code, id`
	qOpenRowsAny = `SELECT %s FROM hcpcs_codes WHERE end_date IS NULL AND hcpcs_code = ANY(?) ORDER BY hcpcs_code, id`

	qCloseRow = `UPDATE hcpcs_codes SET end_date = ? WHERE id = ? AND end_date IS NULL`

	qHistory = `SELECT %s FROM hcpcs_codes WHERE hcpcs_code = ? ORDER BY id`

	qGroupCounts = `SELECT COALESCE(group_code, '') AS grp, COUNT(*) AS cnt
FROM hcpcs_codes GROUP BY COALESCE(group_code, '') ORDER BY grp`

	qTopCategories = `SELECT category_name, COUNT(*) AS cnt
FROM hcpcs_codes GROUP BY category_name ORDER BY cnt DESC, category_name LIMIT ?`

	qMultiVersion = `SELECT hcpcs_code, COUNT(DISTINCT long_description) AS versions
FROM hcpcs_codes GROUP BY hcpcs_code HAVING COUNT(DISTINCT long_description) > 1 ORDER BY hcpcs_code`

	qLoadedSources = `SELECT source, inserted, closed, unchanged, skipped, loaded_at
FROM hcpcs_loads ORDER BY loaded_at, source`

	// qRecordLoad upserts with ON CONFLICT (SQLite, Postgres). MySQL uses
	// qRecordLoadMySQL.
	qRecordLoad = `INSERT INTO hcpcs_loads (source, inserted, closed, unchanged, skipped, loaded_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source) DO UPDATE SET inserted = excluded.inserted, closed = excluded.closed,
unchanged = excluded.unchanged, skipped = excluded.skipped, loaded_at = excluded.loaded_at`

	qRecordLoadMySQL = `INSERT INTO hcpcs_loads (source, inserted, closed, unchanged, skipped, loaded_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE inserted = VALUES(inserted), closed = VALUES(closed),
unchanged = VALUES(unchanged), skipped = VALUES(skipped), loaded_at = VALUES(loaded_at)`

	qExpired = `SELECT hcpcs_code, effective_date, end_date FROM hcpcs_codes
WHERE effective_date <= ? AND end_date IS NOT NULL AND end_date < ? ORDER BY hcpcs_code, id`
)

// lookupBatch bounds the IN list of OpenRows queries.
const lookupBatch = 500

// insertBatch bounds rows per multi-row INSERT.
const insertBatch = 200

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// listQuery builds the ListRows query and its arguments.
func listQuery(f model.RowFilter) (string, []any) {
	var where []string
	var args []any
	if f.Code != "" {
		where = append(where, "hcpcs_code = ?")
		args = append(args, strings.ToUpper(f.Code))
	}
	if f.GroupCode != "" {
		where = append(where, "group_code = ?")
		args = append(args, strings.ToUpper(f.GroupCode))
	}
	if f.ActiveOnly {
		where = append(where, "end_date IS NULL")
	}

	q := "SELECT " + selectColumns + " FROM " + table
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY hcpcs_code, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return q, args
}

// chunk splits s into slices of at most n elements.
func chunk[T any](s []T, n int) [][]T {
	var out [][]T
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// uniqueCodes drops duplicate and empty codes, preserving order.
func uniqueCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func loadArgs(src *model.LoadedSource) []any {
	r := src.Report
	return []any{src.Name, r.Inserted, r.Closed, r.Unchanged, r.Skipped, src.LoadedAt.UTC()}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
