package pgqueue_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/pgqueue/driver"
)

// memDriver is an in-memory driver.Driver used to exercise the broker and
// stores without a database. A single mutex around DeleteReturning
// reproduces the claim atomicity the database provides.
type memDriver struct {
	mu      sync.Mutex
	started bool
	nextID  int64
	rows    map[string]memRow

	schema driver.Schema

	// onNotify receives the payload of every published notification.
	onNotify func(payload string)
	// publishErr, when set, fails every pg_notify Execute call.
	publishErr error
}

type memRow struct {
	values    map[string]any
	createdAt time.Time
}

func newMemDriver(schema driver.Schema) *memDriver {
	return &memDriver{
		rows:   make(map[string]memRow),
		schema: schema,
	}
}

func messageSchema() driver.Schema {
	return driver.Schema{
		Table:      "pgqueue_messages",
		PrimaryKey: driver.SerialPrimaryKey("id"),
		Columns: []driver.Column{
			{Name: "task_id", Kind: driver.KindUUID},
			{Name: "task_name", Kind: driver.KindVarChar},
			{Name: "message", Kind: driver.KindBytea},
			{Name: "labels", Kind: driver.KindJSONB},
		},
	}
}

func valueKey(v any) string { return fmt.Sprint(v) }

func (d *memDriver) Startup(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *memDriver) Shutdown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *memDriver) CreateTable(context.Context) error { return nil }
func (d *memDriver) CreateIndex(context.Context) error { return nil }

func (d *memDriver) Insert(_ context.Context, columns []driver.Column, values []any, returning []driver.Column) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row := memRow{values: make(map[string]any, len(columns)+1), createdAt: time.Now()}
	for i, col := range columns {
		row.values[col.Name] = values[i]
	}

	pk := d.schema.PrimaryKey.Name
	if _, ok := row.values[pk]; !ok {
		d.nextID++
		row.values[pk] = d.nextID
	}
	d.rows[valueKey(row.values[pk])] = row

	if len(returning) == 0 {
		return nil, nil
	}
	return row.values[returning[0].Name], nil
}

func (d *memDriver) InsertOrUpdate(_ context.Context, columns []driver.Column, values []any, _, updateColumns, returning []driver.Column) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	incoming := make(map[string]any, len(columns))
	for i, col := range columns {
		incoming[col.Name] = values[i]
	}

	pk := d.schema.PrimaryKey.Name
	key := valueKey(incoming[pk])

	if existing, ok := d.rows[key]; ok {
		for _, col := range updateColumns {
			existing.values[col.Name] = incoming[col.Name]
		}
		d.rows[key] = existing
	} else {
		d.rows[key] = memRow{values: incoming, createdAt: time.Now()}
	}

	if len(returning) == 0 {
		return nil, nil
	}
	return d.rows[key].values[returning[0].Name], nil
}

func (d *memDriver) Delete(_ context.Context, column driver.Column, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, row := range d.rows {
		if valueKey(row.values[column.Name]) == valueKey(value) {
			delete(d.rows, key)
		}
	}
	return nil
}

func (d *memDriver) DeleteReturning(_ context.Context, column driver.Column, value any, returning []driver.Column) (driver.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, row := range d.rows {
		if valueKey(row.values[column.Name]) != valueKey(value) {
			continue
		}
		delete(d.rows, key)

		out := make(driver.Row, len(returning))
		for _, col := range returning {
			out[col.Name] = row.values[col.Name]
		}
		return out, nil
	}
	return nil, nil
}

func (d *memDriver) Select(_ context.Context, columns, whereColumns []driver.Column, whereValues []any) ([]driver.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []driver.Row
	for _, row := range d.rows {
		matched := true
		for i, col := range whereColumns {
			if valueKey(row.values[col.Name]) != valueKey(whereValues[i]) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		projected := make(driver.Row, len(columns))
		for _, col := range columns {
			projected[col.Name] = row.values[col.Name]
		}
		out = append(out, projected)
	}
	return out, nil
}

func (d *memDriver) Exists(_ context.Context, id any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.rows[valueKey(id)]
	return ok, nil
}

func (d *memDriver) DeleteByDateRange(_ context.Context, from, to time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if to.IsZero() {
		to = time.Now()
	}
	for key, row := range d.rows {
		if !row.createdAt.Before(from) && !row.createdAt.After(to) {
			delete(d.rows, key)
		}
	}
	return nil
}

func (d *memDriver) Execute(_ context.Context, query string, args ...any) ([]driver.Row, error) {
	if strings.Contains(query, "pg_notify") {
		d.mu.Lock()
		err := d.publishErr
		notify := d.onNotify
		d.mu.Unlock()

		if err != nil {
			return nil, err
		}
		if notify != nil && len(args) == 2 {
			notify(fmt.Sprint(args[1]))
		}
	}
	return nil, nil
}

func (d *memDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}

func (d *memDriver) setPublishErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishErr = err
}

// putRow inserts a raw row directly, bypassing Insert, for malformed-row tests.
func (d *memDriver) putRow(id int64, values map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	values[d.schema.PrimaryKey.Name] = id
	d.rows[valueKey(id)] = memRow{values: values, createdAt: time.Now()}
}

// memListener is an in-memory driver.ListenDriver fed by memDriver's
// notification hook.
type memListener struct {
	payloads chan string
	done     chan struct{}
	once     sync.Once
}

func newMemListener() *memListener {
	return &memListener{
		payloads: make(chan string, 128),
		done:     make(chan struct{}),
	}
}

func (l *memListener) Startup(context.Context) error { return nil }

func (l *memListener) Shutdown(context.Context) error {
	l.Close()
	return nil
}

func (l *memListener) Close() { l.once.Do(func() { close(l.done) }) }

func (l *memListener) Emit(payload string) {
	select {
	case l.payloads <- payload:
	case <-l.done:
	}
}

func (l *memListener) Next(ctx context.Context) (string, error) {
	select {
	case payload := <-l.payloads:
		return payload, nil
	case <-l.done:
		return "", driver.ErrListenerClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// newTestBroker wires a broker to fresh in-memory fakes.
func newTestBroker(opts ...func(*memDriver)) (*memDriver, *memListener) {
	d := newMemDriver(messageSchema())
	l := newMemListener()
	d.onNotify = func(payload string) { l.Emit(payload) }
	for _, opt := range opts {
		opt(d)
	}
	return d, l
}
