package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxDriver runs row operations on a pgxpool.Pool.
type pgxDriver struct {
	cfg    Config
	schema Schema

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func newPgxDriver(cfg Config, schema Schema) *pgxDriver {
	return &pgxDriver{cfg: cfg, schema: schema}
}

func (d *pgxDriver) Startup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(d.cfg.ConnectionString)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	poolCfg.MaxConns = d.cfg.MaxOpenConns
	poolCfg.MinConns = d.cfg.MaxIdleConns

	var pool *pgxpool.Pool
	for i := 0; i < d.cfg.attempts(); i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			// Ping to catch authentication and permission failures that
			// pool construction alone does not surface.
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
			pool = nil
		}
		if i < d.cfg.attempts()-1 {
			time.Sleep(d.cfg.retryWait(i))
		}
	}
	if pool == nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	d.pool = pool

	if d.schema.Migrate {
		if err := d.migrate(ctx); err != nil {
			pool.Close()
			d.pool = nil
			return err
		}
	}

	return nil
}

// migrate creates the table and indexes in one transaction so partial schema
// creation never persists.
func (d *pgxDriver) migrate(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, BuildCreateTable(d.schema.Table, d.schema.TableColumns())); err != nil {
		return err
	}
	if stmt := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns); stmt != "" {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (d *pgxDriver) Shutdown(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

func (d *pgxDriver) getPool() (*pgxpool.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool == nil {
		return nil, ErrNotStarted
	}
	return d.pool, nil
}

func (d *pgxDriver) CreateTable(ctx context.Context) error {
	pool, err := d.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, BuildCreateTable(d.schema.Table, d.schema.TableColumns()))
	return err
}

func (d *pgxDriver) CreateIndex(ctx context.Context) error {
	stmt := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns)
	if stmt == "" {
		return nil
	}

	pool, err := d.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, stmt)
	return err
}

func (d *pgxDriver) Insert(ctx context.Context, columns []Column, values []any, returning []Column) (any, error) {
	pool, err := d.getPool()
	if err != nil {
		return nil, err
	}

	args, err := marshalValues(columns, values)
	if err != nil {
		return nil, err
	}

	stmt := BuildInsert(d.schema.Table, columns, returning)
	if len(returning) == 0 {
		_, err = pool.Exec(ctx, stmt, args...)
		return nil, err
	}

	var out any
	if err := pool.QueryRow(ctx, stmt, args...).Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *pgxDriver) InsertOrUpdate(ctx context.Context, columns []Column, values []any, conflictColumns, updateColumns, returning []Column) (any, error) {
	pool, err := d.getPool()
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
		_, err = pool.Exec(ctx, stmt, args...)
		return nil, err
	}

	var out any
	if err := pool.QueryRow(ctx, stmt, args...).Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *pgxDriver) Delete(ctx context.Context, column Column, value any) error {
	pool, err := d.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, BuildDelete(d.schema.Table, column), value)
	return err
}

func (d *pgxDriver) DeleteReturning(ctx context.Context, column Column, value any, returning []Column) (Row, error) {
	pool, err := d.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, BuildDeleteReturning(d.schema.Table, column, returning), value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		// No row matched: already claimed elsewhere. Expected, not an error.
		return nil, rows.Err()
	}

	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	return rowFromValues(returning, values), nil
}

func (d *pgxDriver) Select(ctx context.Context, columns, whereColumns []Column, whereValues []any) ([]Row, error) {
	pool, err := d.getPool()
	if err != nil {
		return nil, err
	}

	args, err := marshalValues(whereColumns, whereValues)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, BuildSelect(d.schema.Table, columns, whereColumns), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, rowFromValues(columns, values))
	}
	return out, rows.Err()
}

func (d *pgxDriver) Exists(ctx context.Context, id any) (bool, error) {
	pool, err := d.getPool()
	if err != nil {
		return false, err
	}

	arg, err := d.schema.PrimaryKey.Kind.Marshal(id)
	if err != nil {
		return false, err
	}

	stmt := BuildSelect(d.schema.Table, []Column{{Name: "1"}}, []Column{d.schema.PrimaryKey})
	rows, err := pool.Query(ctx, stmt, arg)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	return rows.Next(), rows.Err()
}

func (d *pgxDriver) DeleteByDateRange(ctx context.Context, from, to time.Time) error {
	pool, err := d.getPool()
	if err != nil {
		return err
	}

	from, to = resolveRange(from, to)
	_, err = pool.Exec(ctx, BuildDeleteByDateRange(d.schema.Table, d.schema.createdAt()), from, to)
	return err
}

func (d *pgxDriver) Execute(ctx context.Context, query string, args ...any) ([]Row, error) {
	pool, err := d.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(values))
		for i, fd := range rows.FieldDescriptions() {
			if i < len(values) {
				row[fd.Name] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func rowFromValues(columns []Column, values []any) Row {
	row := make(Row, len(columns))
	for i, col := range columns {
		if i < len(values) {
			row[col.Name] = values[i]
		}
	}
	return row
}

// pgxListener receives notifications on a dedicated pgx connection. The
// connection is never used for row operations; it stays blocked in
// WaitForNotification for its entire life.
type pgxListener struct {
	cfg     Config
	channel string

	mu     sync.Mutex
	conn   *pgx.Conn
	cancel context.CancelFunc
	done   chan struct{}
	queue  *notifyQueue
}

func newPgxListener(cfg Config, channel string) *pgxListener {
	return &pgxListener{cfg: cfg, channel: channel, queue: newNotifyQueue()}
}

func (l *pgxListener) Startup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, l.cfg.ConnectionString)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return errors.Join(ErrConnectionFailed, err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.conn = conn
	l.cancel = cancel
	l.done = done

	go l.receive(waitCtx, conn, done)

	return nil
}

// receive pumps notifications into the queue until the connection closes.
func (l *pgxListener) receive(ctx context.Context, conn *pgx.Conn, done chan<- struct{}) {
	defer close(done)
	defer l.queue.Close()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			// Cancellation or a broken connection both end the sequence;
			// WaitForNotification does not return transient errors on a
			// healthy connection.
			return
		}
		l.queue.Enqueue(n.Payload)
	}
}

func (l *pgxListener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	// pgx.Conn is not safe for concurrent use: wait for the receive
	// goroutine to leave WaitForNotification before closing.
	l.cancel()
	<-l.done
	err := l.conn.Close(ctx)
	l.conn = nil
	l.cancel = nil
	l.done = nil
	return err
}

func (l *pgxListener) Next(ctx context.Context) (string, error) {
	payload, err := l.queue.Dequeue(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return "", ErrListenerClosed
	}
	return payload, err
}
