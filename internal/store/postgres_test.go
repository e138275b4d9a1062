package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var rowColumns = []string{
	"id", "group_code", "category_name", "hcpcs_code", "short_description", "long_description",
	"detailed_description", "effective_date", "end_date", "action_code", "pricing_indicator_code",
	"status_code", "created_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hcpcs_codes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OpenRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM hcpcs_codes WHERE end_date IS NULL AND hcpcs_code = ANY\(\$1\)`).
		WithArgs([]string{"A0001", "J0120"}).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(7), "A", "A Codes", "A0001", "Ambulance", "Ambulance service", nil,
				time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil, nil, nil, "A", created))

	open, err := s.OpenRows(context.Background(), []string{"A0001", "J0120", "A0001"})
	require.NoError(t, err)
	require.Len(t, open["A0001"], 1)

	row := open["A0001"][0]
	assert.Equal(t, int64(7), row.ID)
	assert.Equal(t, "Ambulance service", row.LongDescription)
	assert.Empty(t, row.DetailedDescription)
	assert.Equal(t, model.DatePtr("2020-01-01"), row.EffectiveDate)
	assert.Nil(t, row.EndDate)
	assert.Equal(t, "A", row.StatusCode)
	assert.Equal(t, created, row.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Apply(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE hcpcs_codes SET end_date = $1 WHERE id = $2 AND end_date IS NULL`)).
		WithArgs(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"hcpcs_codes"}, insertColumns).WillReturnResult(1)
	mock.ExpectCommit()

	err := s.Apply(context.Background(), model.LoadPlan{
		Closures: []model.Closure{{ID: 7, Code: "A0001", EndDate: model.MustDate("2022-01-01")}},
		Inserts: []model.CodeRow{{
			GroupCode: "A", CategoryName: "A Codes", HCPCSCode: "A0001",
			LongDescription: "Ambulance service v2", EffectiveDate: model.DatePtr("2022-01-01"),
		}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRollsBackWhenRowAlreadyClosed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE hcpcs_codes SET end_date`).
		WithArgs(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), model.LoadPlan{
		Closures: []model.Closure{{ID: 7, Code: "A0001", EndDate: model.MustDate("2022-01-01")}},
		Inserts:  []model.CodeRow{{CategoryName: "A Codes", HCPCSCode: "A0001", LongDescription: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open row not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyEmptyPlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.Apply(context.Background(), model.LoadPlan{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRecordsSource(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	loadedAt := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO hcpcs_loads .*ON CONFLICT \(source\) DO UPDATE`).
		WithArgs("hcpcs-20240315.json", 0, 0, 3, 1, loadedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Apply(context.Background(), model.LoadPlan{Source: &model.LoadedSource{
		Name:     "hcpcs-20240315.json",
		Report:   model.LoadReport{Unchanged: 3, Skipped: 1},
		LoadedAt: loadedAt,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadedSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	loadedAt := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM hcpcs_loads ORDER BY loaded_at, source`).
		WillReturnRows(pgxmock.NewRows([]string{"source", "inserted", "closed", "unchanged", "skipped", "loaded_at"}).
			AddRow("hcpcs-20240315.json", 2, 1, 5, 0, loadedAt))

	srcs, err := s.LoadedSources(context.Background())
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "hcpcs-20240315.json", srcs[0].Name)
	assert.Equal(t, model.LoadReport{Inserted: 2, Closed: 1, Unchanged: 5}, srcs[0].Report)
	assert.Equal(t, loadedAt, srcs[0].LoadedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_History_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE hcpcs_code = \$1 ORDER BY id`).
		WithArgs("A0001").
		WillReturnError(errors.New("connection refused"))

	_, err := s.History(context.Background(), "a0001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE group_code = $1 AND end_date IS NULL ORDER BY hcpcs_code, id LIMIT $2`)).
		WithArgs("J", 10).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(1), "J", "J Codes", "J0120", nil, "Tetracyclin", nil, nil, nil, nil, nil, nil, time.Now()))

	rows, err := s.ListRows(context.Background(), model.RowFilter{GroupCode: "j", ActiveOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "J0120", rows[0].HCPCSCode)
	assert.Nil(t, rows[0].EffectiveDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Reports(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COALESCE\(group_code, ''\)`).
		WillReturnRows(pgxmock.NewRows([]string{"grp", "cnt"}).AddRow("A", int64(3)).AddRow("J", int64(1)))
	mock.ExpectQuery(`GROUP BY category_name ORDER BY cnt DESC, category_name LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"category_name", "cnt"}).AddRow("A Codes", int64(3)))
	mock.ExpectQuery(`HAVING COUNT\(DISTINCT long_description\) > 1`).
		WillReturnRows(pgxmock.NewRows([]string{"hcpcs_code", "versions"}).AddRow("A0001", int64(2)))
	mock.ExpectQuery(`WHERE effective_date <= \$1 AND end_date IS NOT NULL AND end_date < \$2`).
		WithArgs(time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"hcpcs_code", "effective_date", "end_date"}).
			AddRow("A0001", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)))

	groups, err := s.GroupCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.GroupCount{{GroupCode: "A", Count: 3}, {GroupCode: "J", Count: 1}}, groups)

	top, err := s.TopCategories(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []model.CategoryCount{{CategoryName: "A Codes", Count: 3}}, top)

	multi, err := s.MultiVersionCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.MultiVersionCode{{HCPCSCode: "A0001", Versions: 2}}, multi)

	expired, err := s.ExpiredBetween(ctx, model.MustDate("2022-12-31"), model.MustDate("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, model.DatePtr("2023-07-01"), expired[0].EndDate)

	assert.NoError(t, mock.ExpectationsWereMet())
}
