// Package driver provides the pluggable PostgreSQL access layer the broker,
// result store, and schedule store are built on.
//
// It has three parts:
//
//   - Column descriptors and a pure statement builder that render
//     parameterized SQL (create table/index, insert, upsert, delete,
//     delete-returning, range delete, select) without any I/O.
//   - The Driver and ListenDriver contracts: uniform row CRUD plus the
//     atomic DELETE ... RETURNING claim primitive, and a per-backend
//     notification subscription exposed as a blocking FIFO of payloads.
//   - Three interchangeable backends behind a registry keyed by name:
//     "pgx" (pgxpool), "pgconn" (direct wire-protocol client pooled with
//     puddle), and "pq" (database/sql over lib/pq).
//
// Backends differ in connection, pooling, and notification APIs but expose
// identical behavior, so everything above this package runs unmodified over
// any of them:
//
//	schema := driver.Schema{
//	    Table:      "pgqueue_messages",
//	    PrimaryKey: driver.SerialPrimaryKey("id"),
//	    Columns: []driver.Column{
//	        {Name: "message", Kind: driver.KindBytea},
//	    },
//	    Migrate: true,
//	}
//
//	d, err := driver.New(driver.NamePgx, cfg, schema)
//
// Connection establishment failures of every backend normalize to
// ErrConnectionFailed; a missed claim (no row matched DeleteReturning) is a
// nil row, never an error.
package driver
