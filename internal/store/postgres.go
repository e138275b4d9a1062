package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hcpcs-cli/internal/db"
	"github.com/sells-group/hcpcs-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS hcpcs_codes (
	id                     BIGSERIAL PRIMARY KEY,
	group_code             TEXT,
	category_name          TEXT NOT NULL,
	hcpcs_code             TEXT NOT NULL,
	short_description      TEXT,
	long_description       TEXT NOT NULL,
	detailed_description   TEXT,
	effective_date         DATE,
	end_date               DATE,
	action_code            TEXT,
	pricing_indicator_code TEXT,
	status_code            TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_hcpcs_code ON hcpcs_codes(hcpcs_code);

CREATE TABLE IF NOT EXISTS hcpcs_loads (
	source    TEXT PRIMARY KEY,
	inserted  INTEGER NOT NULL DEFAULT 0,
	closed    INTEGER NOT NULL DEFAULT 0,
	unchanged INTEGER NOT NULL DEFAULT 0,
	skipped   INTEGER NOT NULL DEFAULT 0,
	loaded_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) OpenRows(ctx context.Context, codes []string) (map[string][]model.CodeRow, error) {
	out := make(map[string][]model.CodeRow)
	for _, batch := range chunk(uniqueCodes(codes), lookupBatch) {
		rows, err := s.queryRows(ctx, rebind(fmt.Sprintf(qOpenRowsAny, selectColumns)), batch)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: open rows")
		}
		for _, r := range rows {
			out[r.HCPCSCode] = append(out[r.HCPCSCode], r)
		}
	}
	return out, nil
}

// Apply closes rows with UPDATE and inserts new ones with COPY, all in one
// transaction.
func (s *PostgresStore) Apply(ctx context.Context, plan model.LoadPlan) error {
	if plan.Empty() {
		return nil
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		closeSQL := rebind(qCloseRow)
		for _, c := range plan.Closures {
			tag, err := tx.Exec(ctx, closeSQL, c.EndDate.Time(), c.ID)
			if err != nil {
				return eris.Wrapf(err, "close row %d", c.ID)
			}
			if tag.RowsAffected() == 0 {
				return eris.Errorf("open row not found: %d (%s)", c.ID, c.Code)
			}
		}

		if len(plan.Inserts) > 0 {
			rows := make([][]any, len(plan.Inserts))
			for i, r := range plan.Inserts {
				rows[i] = pgRowArgs(r)
			}
			if _, err := db.CopyFrom(ctx, tx, table, insertColumns, rows); err != nil {
				return err
			}
		}

		if plan.Source != nil {
			if _, err := tx.Exec(ctx, rebind(qRecordLoad), loadArgs(plan.Source)...); err != nil {
				return eris.Wrapf(err, "record load %s", plan.Source.Name)
			}
		}
		return nil
	})
	return eris.Wrap(err, "postgres: apply")
}

func (s *PostgresStore) History(ctx context.Context, code string) ([]model.CodeRow, error) {
	rows, err := s.queryRows(ctx, rebind(fmt.Sprintf(qHistory, selectColumns)), strings.ToUpper(code))
	return rows, eris.Wrapf(err, "postgres: history %s", code)
}

func (s *PostgresStore) LoadedSources(ctx context.Context) ([]model.LoadedSource, error) {
	rows, err := s.pool.Query(ctx, qLoadedSources)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: loaded sources")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LoadedSource, error) {
		var src model.LoadedSource
		r := &src.Report
		err := row.Scan(&src.Name, &r.Inserted, &r.Closed, &r.Unchanged, &r.Skipped, &src.LoadedAt)
		return src, err
	})
	return out, eris.Wrap(err, "postgres: loaded sources")
}

func (s *PostgresStore) ListRows(ctx context.Context, filter model.RowFilter) ([]model.CodeRow, error) {
	q, args := listQuery(filter)
	rows, err := s.queryRows(ctx, rebind(q), args...)
	return rows, eris.Wrap(err, "postgres: list rows")
}

func (s *PostgresStore) GroupCounts(ctx context.Context) ([]model.GroupCount, error) {
	rows, err := s.pool.Query(ctx, qGroupCounts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: group counts")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.GroupCount, error) {
		var g model.GroupCount
		err := row.Scan(&g.GroupCode, &g.Count)
		return g, err
	})
	return out, eris.Wrap(err, "postgres: group counts")
}

func (s *PostgresStore) TopCategories(ctx context.Context, n int) ([]model.CategoryCount, error) {
	rows, err := s.pool.Query(ctx, rebind(qTopCategories), n)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top categories")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryCount, error) {
		var c model.CategoryCount
		err := row.Scan(&c.CategoryName, &c.Count)
		return c, err
	})
	return out, eris.Wrap(err, "postgres: top categories")
}

func (s *PostgresStore) MultiVersionCodes(ctx context.Context) ([]model.MultiVersionCode, error) {
	rows, err := s.pool.Query(ctx, qMultiVersion)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: multi-version codes")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MultiVersionCode, error) {
		var m model.MultiVersionCode
		err := row.Scan(&m.HCPCSCode, &m.Versions)
		return m, err
	})
	return out, eris.Wrap(err, "postgres: multi-version codes")
}

func (s *PostgresStore) ExpiredBetween(ctx context.Context, activeBy, expiredBefore model.Date) ([]model.ExpiredCode, error) {
	rows, err := s.pool.Query(ctx, rebind(qExpired), activeBy.Time(), expiredBefore.Time())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: expired codes")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExpiredCode, error) {
		var (
			e        model.ExpiredCode
			eff, end pgtype.Date
		)
		if err := row.Scan(&e.HCPCSCode, &eff, &end); err != nil {
			return e, err
		}
		e.EffectiveDate = fromPgDate(eff)
		e.EndDate = fromPgDate(end)
		return e, nil
	})
	return out, eris.Wrap(err, "postgres: expired codes")
}

func (s *PostgresStore) queryRows(ctx context.Context, q string, args ...any) ([]model.CodeRow, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CodeRow, error) {
		return scanPgRow(row)
	})
}

func scanPgRow(row pgx.Row) (model.CodeRow, error) {
	var (
		r                       model.CodeRow
		group, short, detailed  pgtype.Text
		action, pricing, status pgtype.Text
		eff, end                pgtype.Date
	)
	err := row.Scan(
		&r.ID, &group, &r.CategoryName, &r.HCPCSCode, &short, &r.LongDescription, &detailed,
		&eff, &end, &action, &pricing, &status, &r.CreatedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "scan row")
	}
	r.GroupCode = group.String
	r.ShortDescription = short.String
	r.DetailedDescription = detailed.String
	r.EffectiveDate = fromPgDate(eff)
	r.EndDate = fromPgDate(end)
	r.ActionCode = action.String
	r.PricingIndicatorCode = pricing.String
	r.StatusCode = status.String
	return r, nil
}

// pgRowArgs mirrors rowArgs with DATE columns bound as time.Time, which pgx
// encodes natively in COPY's binary format.
func pgRowArgs(r model.CodeRow) []any {
	args := rowArgs(r)
	args[6] = pgDate(r.EffectiveDate)
	args[7] = pgDate(r.EndDate)
	return args
}

func pgDate(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.Time()
}

func fromPgDate(d pgtype.Date) *model.Date {
	if !d.Valid {
		return nil
	}
	date := model.NewDate(d.Time)
	return &date
}
