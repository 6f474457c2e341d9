package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// pqDriver runs row operations through database/sql backed by lib/pq.
type pqDriver struct {
	cfg    Config
	schema Schema

	mu sync.Mutex
	db *sql.DB
}

func newPqDriver(cfg Config, schema Schema) *pqDriver {
	return &pqDriver{cfg: cfg, schema: schema}
}

func (d *pqDriver) Startup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", d.cfg.ConnectionString)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	db.SetMaxOpenConns(int(d.cfg.MaxOpenConns))
	db.SetMaxIdleConns(int(d.cfg.MaxIdleConns))

	// sql.Open validates nothing; ping with retries to surface bad DSNs and
	// unreachable hosts during startup.
	for i := 0; i < d.cfg.attempts(); i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if i < d.cfg.attempts()-1 {
			time.Sleep(d.cfg.retryWait(i))
		}
	}
	if err != nil {
		_ = db.Close()
		return errors.Join(ErrConnectionFailed, err)
	}
	d.db = db

	if d.schema.Migrate {
		if err := d.migrate(ctx); err != nil {
			_ = db.Close()
			d.db = nil
			return err
		}
	}

	return nil
}

func (d *pqDriver) migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, BuildCreateTable(d.schema.Table, d.schema.TableColumns())); err != nil {
		return err
	}
	if stmt := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *pqDriver) Shutdown(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *pqDriver) getDB() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil, ErrNotStarted
	}
	return d.db, nil
}

func (d *pqDriver) CreateTable(ctx context.Context) error {
	db, err := d.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, BuildCreateTable(d.schema.Table, d.schema.TableColumns()))
	return err
}

func (d *pqDriver) CreateIndex(ctx context.Context) error {
	stmt := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns)
	if stmt == "" {
		return nil
	}

	db, err := d.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, stmt)
	return err
}

func (d *pqDriver) Insert(ctx context.Context, columns []Column, values []any, returning []Column) (any, error) {
	db, err := d.getDB()
	if err != nil {
		return nil, err
	}

	args, err := marshalValues(columns, values)
	if err != nil {
		return nil, err
	}

	stmt := BuildInsert(d.schema.Table, columns, returning)
	if len(returning) == 0 {
		_, err = db.ExecContext(ctx, stmt, args...)
		return nil, err
	}

	holders := scanTargets(returning)
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(holders...); err != nil {
		return nil, err
	}
	return holderValue(returning[0].Kind, holders[0]), nil
}

func (d *pqDriver) InsertOrUpdate(ctx context.Context, columns []Column, values []any, conflictColumns, updateColumns, returning []Column) (any, error) {
	db, err := d.getDB()
	if err != nil {
		return nil, err
	}

	stmt, err := BuildInsertOrUpdate(d.schema.Table, columns, conflictColumns, ConflictUpdate, updateColumns, returning)
	if err != nil {
		return nil, err
	}

	args, err := marshalValues(columns, values)
	if err != nil {
		return nil, err
	}

	if len(returning) == 0 {
		_, err = db.ExecContext(ctx, stmt, args...)
		return nil, err
	}

	holders := scanTargets(returning)
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(holders...); err != nil {
		return nil, err
	}
	return holderValue(returning[0].Kind, holders[0]), nil
}

func (d *pqDriver) Delete(ctx context.Context, column Column, value any) error {
	db, err := d.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, BuildDelete(d.schema.Table, column), value)
	return err
}

func (d *pqDriver) DeleteReturning(ctx context.Context, column Column, value any, returning []Column) (Row, error) {
	db, err := d.getDB()
	if err != nil {
		return nil, err
	}

	holders := scanTargets(returning)
	err = db.QueryRowContext(ctx, BuildDeleteReturning(d.schema.Table, column, returning), value).Scan(holders...)
	if errors.Is(err, sql.ErrNoRows) {
		// Already claimed elsewhere. Expected, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rowFromHolders(returning, holders), nil
}

func (d *pqDriver) Select(ctx context.Context, columns, whereColumns []Column, whereValues []any) ([]Row, error) {
	db, err := d.getDB()
	if err != nil {
		return nil, err
	}

	args, err := marshalValues(whereColumns, whereValues)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, BuildSelect(d.schema.Table, columns, whereColumns), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		holders := scanTargets(columns)
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		out = append(out, rowFromHolders(columns, holders))
	}
	return out, rows.Err()
}

func (d *pqDriver) Exists(ctx context.Context, id any) (bool, error) {
	db, err := d.getDB()
	if err != nil {
		return false, err
	}

	arg, err := d.schema.PrimaryKey.Kind.Marshal(id)
	if err != nil {
		return false, err
	}

	stmt := BuildSelect(d.schema.Table, []Column{{Name: "1", Kind: KindInteger}}, []Column{d.schema.PrimaryKey})
	rows, err := db.QueryContext(ctx, stmt, arg)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	return rows.Next(), rows.Err()
}

func (d *pqDriver) DeleteByDateRange(ctx context.Context, from, to time.Time) error {
	db, err := d.getDB()
	if err != nil {
		return err
	}

	from, to = resolveRange(from, to)
	_, err = db.ExecContext(ctx, BuildDeleteByDateRange(d.schema.Table, d.schema.createdAt()), from, to)
	return err
}

func (d *pqDriver) Execute(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := d.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		holders := make([]any, len(names))
		for i := range holders {
			holders[i] = new(any)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = *holders[i].(*any)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// scanTargets builds kind-appropriate scan destinations for one row.
func scanTargets(columns []Column) []any {
	holders := make([]any, len(columns))
	for i, col := range columns {
		switch col.Kind {
		case KindSerial, KindBigSerial, KindInteger:
			holders[i] = new(sql.NullInt64)
		case KindBytea:
			holders[i] = new([]byte)
		case KindTimestampTZ:
			holders[i] = new(sql.NullTime)
		case KindBoolean:
			holders[i] = new(sql.NullBool)
		default:
			holders[i] = new(sql.NullString)
		}
	}
	return holders
}

// holderValue unwraps a scan destination into the value the rest of the
// module works with; SQL NULL becomes nil.
func holderValue(kind Kind, holder any) any {
	switch h := holder.(type) {
	case *sql.NullInt64:
		if !h.Valid {
			return nil
		}
		return h.Int64
	case *[]byte:
		if *h == nil {
			return nil
		}
		return *h
	case *sql.NullTime:
		if !h.Valid {
			return nil
		}
		return h.Time
	case *sql.NullBool:
		if !h.Valid {
			return nil
		}
		return h.Bool
	case *sql.NullString:
		if !h.Valid {
			return nil
		}
		return h.String
	default:
		return holder
	}
}

func rowFromHolders(columns []Column, holders []any) Row {
	row := make(Row, len(columns))
	for i, col := range columns {
		row[col.Name] = holderValue(col.Kind, holders[i])
	}
	return row
}

// pqListener subscribes through pq.Listener, which owns its dedicated
// connection and reconnect handling.
type pqListener struct {
	cfg     Config
	channel string

	mu       sync.Mutex
	listener *pq.Listener
	queue    *notifyQueue
}

func newPqListener(cfg Config, channel string) *pqListener {
	return &pqListener{cfg: cfg, channel: channel, queue: newNotifyQueue()}
}

func (l *pqListener) Startup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return nil
	}

	connectErrs := make(chan error, 1)
	listener := pq.NewListener(l.cfg.ConnectionString, time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if ev == pq.ListenerEventConnectionAttemptFailed {
				select {
				case connectErrs <- err:
				default:
				}
			}
		})

	// Listen blocks for as long as pq keeps retrying a failed connection in
	// the background, which is forever. The attempt has to be bounded from
	// outside: give up after the configured number of failed attempts, after
	// the retry-schedule budget, or when ctx ends, whichever comes first.
	listenDone := make(chan error, 1)
	go func() { listenDone <- listener.Listen(l.channel) }()

	budget := l.cfg.startupBudget()
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	var lastErr error
	failures := 0
	for {
		select {
		case err := <-listenDone:
			if err != nil {
				_ = listener.Close()
				return errors.Join(ErrConnectionFailed, err)
			}
			l.listener = listener

			queue := l.queue
			go func() {
				defer queue.Close()
				// Notify closes when the listener is closed. A nil
				// notification marks a reconnect, not a payload.
				for n := range listener.Notify {
					if n != nil {
						queue.Enqueue(n.Extra)
					}
				}
			}()
			return nil
		case err := <-connectErrs:
			failures++
			lastErr = err
			if failures < l.cfg.attempts() {
				continue
			}
			_ = listener.Close()
			return errors.Join(ErrConnectionFailed, err)
		case <-ctx.Done():
			_ = listener.Close()
			return errors.Join(ErrConnectionFailed, ctx.Err(), lastErr)
		case <-deadline.C:
			_ = listener.Close()
			return errors.Join(ErrConnectionFailed,
				fmt.Errorf("listener connection not established within %s", budget), lastErr)
		}
	}
}

func (l *pqListener) Shutdown(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return nil
	}

	err := l.listener.Close()
	l.listener = nil
	return err
}

func (l *pqListener) Next(ctx context.Context) (string, error) {
	payload, err := l.queue.Dequeue(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return "", ErrListenerClosed
	}
	return payload, err
}
