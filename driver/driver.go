package driver

import (
	"context"
	"time"
)

// Driver name tags accepted by the registry.
const (
	NamePgx    = "pgx"    // pgx/v5 pgxpool backend
	NamePgconn = "pgconn" // low-level pgconn backend pooled with puddle
	NamePq     = "pq"     // database/sql backend over lib/pq
)

// Row maps column names to the values read back from a statement.
type Row map[string]any

// Schema describes the table a Driver instance operates on. It is assembled
// once at configuration time; the primary key and created-at columns are
// appended to Columns when the table is created.
type Schema struct {
	Table        string
	PrimaryKey   Column
	Columns      []Column
	CreatedAt    Column
	IndexColumns []Column

	// Migrate wraps table and index creation in a single transaction during
	// Startup so partial schema creation never persists.
	Migrate bool
}

// TableColumns returns all columns in DDL order: primary key first, then the
// payload columns, then created_at.
func (s Schema) TableColumns() []Column {
	cols := make([]Column, 0, len(s.Columns)+2)
	cols = append(cols, s.PrimaryKey)
	cols = append(cols, s.Columns...)
	cols = append(cols, s.createdAt())
	return cols
}

func (s Schema) createdAt() Column {
	if s.CreatedAt.Name == "" {
		return CreatedAtColumn()
	}
	return s.CreatedAt
}

// Driver is the uniform capability set every backend exposes for row
// operations against one table. A Driver owns its connection pool; the pool
// is never shared across Driver instances. All implementations are safe for
// concurrent use after Startup.
type Driver interface {
	// Startup establishes the connection pool and, when Schema.Migrate is
	// set, creates the table and indexes in a single transaction. A failure
	// to establish the pool is reported as ErrConnectionFailed.
	Startup(ctx context.Context) error

	// Shutdown releases the pool. Safe to call more than once.
	Shutdown(ctx context.Context) error

	CreateTable(ctx context.Context) error

	// CreateIndex creates the configured indexes. No-op when the schema has
	// no index columns.
	CreateIndex(ctx context.Context) error

	// Insert executes an insert and returns the single value named by
	// returning (typically the generated primary key), or nil when no
	// returning column is requested.
	Insert(ctx context.Context, columns []Column, values []any, returning []Column) (any, error)

	// InsertOrUpdate executes an upsert that overwrites updateColumns from
	// the incoming row on conflict.
	InsertOrUpdate(ctx context.Context, columns []Column, values []any, conflictColumns, updateColumns, returning []Column) (any, error)

	Delete(ctx context.Context, column Column, value any) error

	// DeleteReturning atomically deletes the row matching column = value and
	// returns the requested columns. A nil row means no row matched, which is
	// the expected outcome when another process already claimed it; it is not
	// an error.
	DeleteReturning(ctx context.Context, column Column, value any, returning []Column) (Row, error)

	// Select returns the projection with an optional conjunctive equality
	// filter. An empty slice, not an error, when nothing matches.
	Select(ctx context.Context, columns, whereColumns []Column, whereValues []any) ([]Row, error)

	Exists(ctx context.Context, id any) (bool, error)

	// DeleteByDateRange deletes rows whose created_at falls in [from, to]
	// inclusive. A zero to defaults to the current time.
	DeleteByDateRange(ctx context.Context, from, to time.Time) error

	// Execute runs an ad hoc statement and returns raw row data. Used to
	// publish notifications and in tests.
	Execute(ctx context.Context, query string, args ...any) ([]Row, error)
}

// ListenDriver subscribes a dedicated connection to one notification channel
// and exposes the received payloads as a lazy, infinite, non-restartable
// sequence. The connection is distinct from any row-operation pool because it
// must stay open indefinitely.
type ListenDriver interface {
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Next blocks until a payload is available and returns it verbatim, in
	// FIFO order. It returns ErrListenerClosed permanently once the
	// underlying connection reports closed.
	Next(ctx context.Context) (string, error)
}

// New constructs the named row-operation backend. Unknown names are reported
// as ErrUnsupportedDriver.
func New(name string, cfg Config, schema Schema) (Driver, error) {
	switch name {
	case NamePgx:
		return newPgxDriver(cfg, schema), nil
	case NamePgconn:
		return newPgconnDriver(cfg, schema), nil
	case NamePq:
		return newPqDriver(cfg, schema), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

// NewListener constructs the named listen backend for the given channel.
func NewListener(name string, cfg Config, channel string) (ListenDriver, error) {
	switch name {
	case NamePgx:
		return newPgxListener(cfg, channel), nil
	case NamePgconn:
		return newPgconnListener(cfg, channel), nil
	case NamePq:
		return newPqListener(cfg, channel), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

// resolveRange applies the open-upper-bound default for DeleteByDateRange.
func resolveRange(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = time.Now()
	}
	return from, to
}
