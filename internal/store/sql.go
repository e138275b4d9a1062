package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// dialect captures the DDL differences between database/sql backends.
type dialect struct {
	name       string
	schema     []string
	recordLoad string
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{`
CREATE TABLE IF NOT EXISTS hcpcs_codes (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	group_code             TEXT,
	category_name          TEXT NOT NULL,
	hcpcs_code             TEXT NOT NULL,
	short_description      TEXT,
	long_description       TEXT NOT NULL,
	detailed_description   TEXT,
	effective_date         TEXT,
	end_date               TEXT,
	action_code            TEXT,
	pricing_indicator_code TEXT,
	status_code            TEXT,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
)`,
		`CREATE INDEX IF NOT EXISTS idx_hcpcs_code ON hcpcs_codes(hcpcs_code)`,
		`
CREATE TABLE IF NOT EXISTS hcpcs_loads (
	source    TEXT PRIMARY KEY,
	inserted  INTEGER NOT NULL DEFAULT 0,
	closed    INTEGER NOT NULL DEFAULT 0,
	unchanged INTEGER NOT NULL DEFAULT 0,
	skipped   INTEGER NOT NULL DEFAULT 0,
	loaded_at DATETIME NOT NULL
)`,
	},
	recordLoad: qRecordLoad,
}

var mysqlDialect = dialect{
	name: DriverMySQL,
	schema: []string{`
CREATE TABLE IF NOT EXISTS hcpcs_codes (
	id                     BIGINT AUTO_INCREMENT PRIMARY KEY,
	group_code             VARCHAR(8) NULL,
	category_name          VARCHAR(255) NOT NULL,
	hcpcs_code             VARCHAR(16) NOT NULL,
	short_description      TEXT NULL,
	long_description       TEXT NOT NULL,
	detailed_description   TEXT NULL,
	effective_date         DATE NULL,
	end_date               DATE NULL,
	action_code            VARCHAR(16) NULL,
	pricing_indicator_code VARCHAR(16) NULL,
	status_code            VARCHAR(16) NULL,
	created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_hcpcs_code (hcpcs_code)
) DEFAULT CHARSET=utf8mb4`,
		`
CREATE TABLE IF NOT EXISTS hcpcs_loads (
	source    VARCHAR(255) NOT NULL PRIMARY KEY,
	inserted  INT NOT NULL DEFAULT 0,
	closed    INT NOT NULL DEFAULT 0,
	unchanged INT NOT NULL DEFAULT 0,
	skipped   INT NOT NULL DEFAULT 0,
	loaded_at DATETIME(6) NOT NULL
) DEFAULT CHARSET=utf8mb4`,
	},
	recordLoad: qRecordLoadMySQL,
}

// SQLStore implements Store on database/sql for SQLite and MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; the loader is single-threaded anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLStore{db: db, dialect: sqliteDialect}, nil
}

// NewMySQL opens a MySQL database. parseTime is forced on so DATE and
// TIMESTAMP columns scan as time.Time.
func NewMySQL(dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "mysql: parse dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "mysql: connector")
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "mysql: ping")
	}
	return &SQLStore{db: db, dialect: mysqlDialect}, nil
}

func (s *SQLStore) errf(format string, args ...any) string {
	return s.dialect.name + ": " + fmt.Sprintf(format, args...)
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, s.errf("migrate"))
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) OpenRows(ctx context.Context, codes []string) (map[string][]model.CodeRow, error) {
	out := make(map[string][]model.CodeRow)
	for _, batch := range chunk(uniqueCodes(codes), lookupBatch) {
		args := make([]any, len(batch))
		for i, c := range batch {
			args[i] = c
		}
		q := fmt.Sprintf(qOpenRowsIn, selectColumns, placeholders(len(batch)))
		rows, err := s.queryRows(ctx, q, args...)
		if err != nil {
			return nil, eris.Wrap(err, s.errf("open rows"))
		}
		for _, r := range rows {
			out[r.HCPCSCode] = append(out[r.HCPCSCode], r)
		}
	}
	return out, nil
}

func (s *SQLStore) Apply(ctx context.Context, plan model.LoadPlan) error {
	if plan.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, s.errf("begin tx"))
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range plan.Closures {
		res, err := tx.ExecContext(ctx, qCloseRow, c.EndDate, c.ID)
		if err != nil {
			return eris.Wrap(err, s.errf("close row %d", c.ID))
		}
		if err := checkRowsAffected(res, "open row", fmt.Sprintf("%d (%s)", c.ID, c.Code)); err != nil {
			return eris.Wrap(err, s.errf("close row"))
		}
	}

	for _, batch := range chunk(plan.Inserts, insertBatch) {
		valueRow := "(" + placeholders(len(insertColumns)) + ")"
		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(insertColumns))
		for i, r := range batch {
			values[i] = valueRow
			args = append(args, rowArgs(r)...)
		}
		q := "INSERT INTO " + table + " (" + strings.Join(insertColumns, ", ") + ") VALUES " + strings.Join(values, ", ")
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return eris.Wrap(err, s.errf("insert %d rows", len(batch)))
		}
	}

	if plan.Source != nil {
		if _, err := tx.ExecContext(ctx, s.dialect.recordLoad, loadArgs(plan.Source)...); err != nil {
			return eris.Wrap(err, s.errf("record load %s", plan.Source.Name))
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, s.errf("commit"))
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, code string) ([]model.CodeRow, error) {
	rows, err := s.queryRows(ctx, fmt.Sprintf(qHistory, selectColumns), strings.ToUpper(code))
	return rows, eris.Wrap(err, s.errf("history %s", code))
}

func (s *SQLStore) LoadedSources(ctx context.Context) ([]model.LoadedSource, error) {
	rows, err := s.db.QueryContext(ctx, qLoadedSources)
	if err != nil {
		return nil, eris.Wrap(err, s.errf("loaded sources"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LoadedSource
	for rows.Next() {
		var (
			src      model.LoadedSource
			loadedAt sqlTime
		)
		r := &src.Report
		if err := rows.Scan(&src.Name, &r.Inserted, &r.Closed, &r.Unchanged, &r.Skipped, &loadedAt); err != nil {
			return nil, eris.Wrap(err, s.errf("scan loaded source"))
		}
		src.LoadedAt = loadedAt.Time
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), s.errf("loaded sources"))
}

func (s *SQLStore) ListRows(ctx context.Context, filter model.RowFilter) ([]model.CodeRow, error) {
	q, args := listQuery(filter)
	rows, err := s.queryRows(ctx, q, args...)
	return rows, eris.Wrap(err, s.errf("list rows"))
}

func (s *SQLStore) GroupCounts(ctx context.Context) ([]model.GroupCount, error) {
	rows, err := s.db.QueryContext(ctx, qGroupCounts)
	if err != nil {
		return nil, eris.Wrap(err, s.errf("group counts"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GroupCount
	for rows.Next() {
		var g model.GroupCount
		if err := rows.Scan(&g.GroupCode, &g.Count); err != nil {
			return nil, eris.Wrap(err, s.errf("scan group count"))
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), s.errf("group counts"))
}

func (s *SQLStore) TopCategories(ctx context.Context, n int) ([]model.CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, qTopCategories, n)
	if err != nil {
		return nil, eris.Wrap(err, s.errf("top categories"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CategoryCount
	for rows.Next() {
		var c model.CategoryCount
		if err := rows.Scan(&c.CategoryName, &c.Count); err != nil {
			return nil, eris.Wrap(err, s.errf("scan category count"))
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), s.errf("top categories"))
}

func (s *SQLStore) MultiVersionCodes(ctx context.Context) ([]model.MultiVersionCode, error) {
	rows, err := s.db.QueryContext(ctx, qMultiVersion)
	if err != nil {
		return nil, eris.Wrap(err, s.errf("multi-version codes"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MultiVersionCode
	for rows.Next() {
		var m model.MultiVersionCode
		if err := rows.Scan(&m.HCPCSCode, &m.Versions); err != nil {
			return nil, eris.Wrap(err, s.errf("scan multi-version code"))
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), s.errf("multi-version codes"))
}

func (s *SQLStore) ExpiredBetween(ctx context.Context, activeBy, expiredBefore model.Date) ([]model.ExpiredCode, error) {
	rows, err := s.db.QueryContext(ctx, qExpired, activeBy, expiredBefore)
	if err != nil {
		return nil, eris.Wrap(err, s.errf("expired codes"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExpiredCode
	for rows.Next() {
		var e model.ExpiredCode
		if err := rows.Scan(&e.HCPCSCode, &e.EffectiveDate, &e.EndDate); err != nil {
			return nil, eris.Wrap(err, s.errf("scan expired code"))
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), s.errf("expired codes"))
}

func (s *SQLStore) queryRows(ctx context.Context, q string, args ...any) ([]model.CodeRow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CodeRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (model.CodeRow, error) {
	var (
		r                       model.CodeRow
		group, short, detailed  sql.NullString
		action, pricing, status sql.NullString
		createdAt               sqlTime
	)
	err := row.Scan(
		&r.ID, &group, &r.CategoryName, &r.HCPCSCode, &short, &r.LongDescription, &detailed,
		&r.EffectiveDate, &r.EndDate, &action, &pricing, &status, &createdAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "scan row")
	}
	r.GroupCode = group.String
	r.ShortDescription = short.String
	r.DetailedDescription = detailed.String
	r.ActionCode = action.String
	r.PricingIndicatorCode = pricing.String
	r.StatusCode = status.String
	r.CreatedAt = createdAt.Time
	return r, nil
}

// rowArgs returns the insertColumns values for r. Dates go through
// model.Date's driver.Valuer as ISO text.
func rowArgs(r model.CodeRow) []any {
	return []any{
		nullable(r.GroupCode),
		r.CategoryName,
		r.HCPCSCode,
		nullable(r.ShortDescription),
		r.LongDescription,
		nullable(r.DetailedDescription),
		dateValue(r.EffectiveDate),
		dateValue(r.EndDate),
		nullable(r.ActionCode),
		nullable(r.PricingIndicatorCode),
		nullable(r.StatusCode),
	}
}

func dateValue(d *model.Date) any {
	if d == nil {
		return nil
	}
	return *d
}

// sqlTime scans timestamps that drivers hand back either as time.Time or as
// text (SQLite's datetime('now')).
type sqlTime struct {
	Time time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	model.DateLayout,
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return eris.Errorf("store: cannot scan %T into time", src)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return eris.Errorf("store: unrecognized timestamp %q", s)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
