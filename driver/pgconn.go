package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

// pgconnDriver talks the wire protocol directly through pgconn, pooled with
// puddle. Parameters and results travel in text format, encoded and decoded
// per column kind.
type pgconnDriver struct {
	cfg    Config
	schema Schema

	mu   sync.Mutex
	pool *puddle.Pool[*pgconn.PgConn]
}

func newPgconnDriver(cfg Config, schema Schema) *pgconnDriver {
	return &pgconnDriver{cfg: cfg, schema: schema}
}

func (d *pgconnDriver) Startup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		return nil
	}

	connString := d.cfg.ConnectionString
	pool, err := puddle.NewPool(&puddle.Config[*pgconn.PgConn]{
		Constructor: func(ctx context.Context) (*pgconn.PgConn, error) {
			return pgconn.Connect(ctx, connString)
		},
		Destructor: func(conn *pgconn.PgConn) {
			_ = conn.Close(context.Background())
		},
		MaxSize: max(d.cfg.MaxOpenConns, 1),
	})
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}

	// Establish one connection up front so bad DSNs and unreachable hosts
	// fail at startup instead of on the first statement.
	var res *puddle.Resource[*pgconn.PgConn]
	for i := 0; i < d.cfg.attempts(); i++ {
		res, err = pool.Acquire(ctx)
		if err == nil {
			break
		}
		if i < d.cfg.attempts()-1 {
			time.Sleep(d.cfg.retryWait(i))
		}
	}
	if err != nil {
		pool.Close()
		return errors.Join(ErrConnectionFailed, err)
	}
	res.Release()
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

func (d *pgconnDriver) migrate(ctx context.Context) error {
	res, err := d.pool.Acquire(ctx)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	defer res.Release()
	conn := res.Value()

	stmts := []string{"BEGIN", BuildCreateTable(d.schema.Table, d.schema.TableColumns())}
	if idx := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns); idx != "" {
		stmts = append(stmts, idx)
	}
	stmts = append(stmts, "COMMIT")

	for _, stmt := range stmts {
		if err := runSimple(ctx, conn, stmt); err != nil {
			_ = runSimple(ctx, conn, "ROLLBACK")
			return err
		}
	}
	return nil
}

func runSimple(ctx context.Context, conn *pgconn.PgConn, stmt string) error {
	_, err := conn.Exec(ctx, stmt).ReadAll()
	return err
}

func (d *pgconnDriver) Shutdown(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

func (d *pgconnDriver) getPool() (*puddle.Pool[*pgconn.PgConn], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool == nil {
		return nil, ErrNotStarted
	}
	return d.pool, nil
}

// run executes one parameterized statement. Result rows are decoded per the
// kinds of the returning columns; a nil returning list keeps raw text values
// keyed by field name.
func (d *pgconnDriver) run(ctx context.Context, stmt string, params []any, paramColumns, returning []Column) ([]Row, error) {
	pool, err := d.getPool()
	if err != nil {
		return nil, err
	}

	res, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	defer res.Release()
	conn := res.Value()

	marshaled, err := marshalValues(paramColumns, params)
	if err != nil {
		return nil, err
	}
	paramValues := make([][]byte, len(marshaled))
	for i, v := range marshaled {
		kind := KindText
		if i < len(paramColumns) {
			kind = paramColumns[i].Kind
		}
		paramValues[i] = encodeTextValue(kind, v)
	}

	result := conn.ExecParams(ctx, stmt, paramValues, nil, nil, nil).Read()
	if result.Err != nil {
		return nil, result.Err
	}

	var out []Row
	for _, raw := range result.Rows {
		row := make(Row, len(raw))
		for i, field := range raw {
			switch {
			case i < len(returning):
				row[returning[i].Name] = decodeTextValue(returning[i].Kind, field)
			case i < len(result.FieldDescriptions):
				row[result.FieldDescriptions[i].Name] = decodeTextValue(KindText, field)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (d *pgconnDriver) CreateTable(ctx context.Context) error {
	_, err := d.run(ctx, BuildCreateTable(d.schema.Table, d.schema.TableColumns()), nil, nil, nil)
	return err
}

func (d *pgconnDriver) CreateIndex(ctx context.Context) error {
	stmt := BuildCreateIndexes(d.schema.Table, d.schema.IndexColumns)
	if stmt == "" {
		return nil
	}

	pool, err := d.getPool()
	if err != nil {
		return err
	}
	res, err := pool.Acquire(ctx)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	defer res.Release()

	// The index statement may contain several commands; the simple protocol
	// runs them all.
	return runSimple(ctx, res.Value(), stmt)
}

func (d *pgconnDriver) Insert(ctx context.Context, columns []Column, values []any, returning []Column) (any, error) {
	rows, err := d.run(ctx, BuildInsert(d.schema.Table, columns, returning), values, columns, returning)
	if err != nil {
		return nil, err
	}
	return singleValue(rows, returning), nil
}

func (d *pgconnDriver) InsertOrUpdate(ctx context.Context, columns []Column, values []any, conflictColumns, updateColumns, returning []Column) (any, error) {
	stmt, err := BuildInsertOrUpdate(d.schema.Table, columns, conflictColumns, ConflictUpdate, updateColumns, returning)
	if err != nil {
		return nil, err
	}

	rows, err := d.run(ctx, stmt, values, columns, returning)
	if err != nil {
		return nil, err
	}
	return singleValue(rows, returning), nil
}

func (d *pgconnDriver) Delete(ctx context.Context, column Column, value any) error {
	_, err := d.run(ctx, BuildDelete(d.schema.Table, column), []any{value}, []Column{column}, nil)
	return err
}

func (d *pgconnDriver) DeleteReturning(ctx context.Context, column Column, value any, returning []Column) (Row, error) {
	rows, err := d.run(ctx, BuildDeleteReturning(d.schema.Table, column, returning), []any{value}, []Column{column}, returning)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (d *pgconnDriver) Select(ctx context.Context, columns, whereColumns []Column, whereValues []any) ([]Row, error) {
	return d.run(ctx, BuildSelect(d.schema.Table, columns, whereColumns), whereValues, whereColumns, columns)
}

func (d *pgconnDriver) Exists(ctx context.Context, id any) (bool, error) {
	stmt := BuildSelect(d.schema.Table, []Column{{Name: "1", Kind: KindInteger}}, []Column{d.schema.PrimaryKey})
	rows, err := d.run(ctx, stmt, []any{id}, []Column{d.schema.PrimaryKey}, nil)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (d *pgconnDriver) DeleteByDateRange(ctx context.Context, from, to time.Time) error {
	from, to = resolveRange(from, to)
	created := d.schema.createdAt()
	_, err := d.run(ctx, BuildDeleteByDateRange(d.schema.Table, created),
		[]any{from, to}, []Column{created, created}, nil)
	return err
}

func (d *pgconnDriver) Execute(ctx context.Context, query string, args ...any) ([]Row, error) {
	return d.run(ctx, query, args, nil, nil)
}

func singleValue(rows []Row, returning []Column) any {
	if len(rows) == 0 || len(returning) == 0 {
		return nil
	}
	return rows[0][returning[0].Name]
}

const pgTimestampLayout = "2006-01-02 15:04:05.999999999Z07:00"

// encodeTextValue renders a marshaled Go value as Postgres text format.
func encodeTextValue(kind Kind, value any) []byte {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if kind == KindBytea {
			return []byte(`\x` + hex.EncodeToString(v))
		}
		return v
	case string:
		return []byte(v)
	case bool:
		return []byte(strconv.FormatBool(v))
	case int:
		return []byte(strconv.Itoa(v))
	case int32:
		return []byte(strconv.FormatInt(int64(v), 10))
	case int64:
		return []byte(strconv.FormatInt(v, 10))
	case time.Time:
		return []byte(v.Format(pgTimestampLayout))
	default:
		return fmt.Appendf(nil, "%v", v)
	}
}

// decodeTextValue parses a text-format field back into the Go value the rest
// of the module works with for that column kind.
func decodeTextValue(kind Kind, field []byte) any {
	if field == nil {
		return nil
	}

	switch kind {
	case KindSerial, KindBigSerial, KindInteger:
		n, err := strconv.ParseInt(string(field), 10, 64)
		if err != nil {
			return string(field)
		}
		return n
	case KindBytea:
		s := strings.TrimPrefix(string(field), `\x`)
		data, err := hex.DecodeString(s)
		if err != nil {
			return field
		}
		return data
	case KindBoolean:
		return string(field) == "t"
	case KindTimestampTZ:
		for _, layout := range []string{
			"2006-01-02 15:04:05.999999999Z07:00",
			"2006-01-02 15:04:05.999999999Z07",
			"2006-01-02 15:04:05Z07",
		} {
			if t, err := time.Parse(layout, string(field)); err == nil {
				return t
			}
		}
		return string(field)
	default:
		return string(field)
	}
}

// pgconnListener receives notifications on a dedicated pgconn connection via
// its OnNotification callback, driven by a WaitForNotification loop.
type pgconnListener struct {
	cfg     Config
	channel string

	mu     sync.Mutex
	conn   *pgconn.PgConn
	cancel context.CancelFunc
	done   chan struct{}
	queue  *notifyQueue
}

func newPgconnListener(cfg Config, channel string) *pgconnListener {
	return &pgconnListener{cfg: cfg, channel: channel, queue: newNotifyQueue()}
}

func (l *pgconnListener) Startup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	connCfg, err := pgconn.ParseConfig(l.cfg.ConnectionString)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	queue := l.queue
	connCfg.OnNotification = func(_ *pgconn.PgConn, n *pgconn.Notification) {
		queue.Enqueue(n.Payload)
	}

	conn, err := pgconn.ConnectConfig(ctx, connCfg)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}

	if err := runSimple(ctx, conn, "LISTEN "+quoteIdentifier(l.channel)); err != nil {
		_ = conn.Close(ctx)
		return errors.Join(ErrConnectionFailed, err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.conn = conn
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		defer queue.Close()
		for {
			if err := conn.WaitForNotification(waitCtx); err != nil {
				return
			}
		}
	}()

	return nil
}

func (l *pgconnListener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	// Wait for the notification loop to leave WaitForNotification before
	// closing the connection underneath it.
	l.cancel()
	<-l.done
	err := l.conn.Close(ctx)
	l.conn = nil
	l.cancel = nil
	l.done = nil
	return err
}

func (l *pgconnListener) Next(ctx context.Context) (string, error) {
	payload, err := l.queue.Dequeue(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return "", ErrListenerClosed
	}
	return payload, err
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
