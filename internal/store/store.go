// Package store persists HCPCS code rows with their validity windows.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DefaultSQLitePath is the database file used when no DSN is configured.
const DefaultSQLitePath = "hcpcs.db"

// Store is the persistence interface for the hcpcs_codes table. Rows are
// only ever inserted or closed; nothing is deleted.
type Store interface {
	// Migrate creates the table and index if they do not exist.
	Migrate(ctx context.Context) error

	// OpenRows returns the rows with no end date for the given codes,
	// keyed by code and ordered by id.
	OpenRows(ctx context.Context, codes []string) (map[string][]model.CodeRow, error)

	// Apply closes and inserts rows, and records the plan's source, in a
	// single transaction.
	Apply(ctx context.Context, plan model.LoadPlan) error

	// LoadedSources lists the artifacts already applied, oldest first.
	LoadedSources(ctx context.Context) ([]model.LoadedSource, error)

	// History returns every row for a code, oldest first.
	History(ctx context.Context, code string) ([]model.CodeRow, error)
	ListRows(ctx context.Context, filter model.RowFilter) ([]model.CodeRow, error)

	// Reporting
	GroupCounts(ctx context.Context) ([]model.GroupCount, error)
	TopCategories(ctx context.Context, n int) ([]model.CategoryCount, error)
	MultiVersionCodes(ctx context.Context) ([]model.MultiVersionCode, error)
	ExpiredBetween(ctx context.Context, activeBy, expiredBefore model.Date) ([]model.ExpiredCode, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	DSN    string
	Pool   *PoolConfig
}

// Open connects to the configured backend. It does not migrate.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite, "sqlite3":
		dsn := opts.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		return NewSQLite(dsn)
	case DriverMySQL:
		return NewMySQL(opts.DSN)
	case DriverPostgres, "postgresql", "pgx":
		return NewPostgres(ctx, opts.DSN, opts.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}
