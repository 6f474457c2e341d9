package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dmitrymomot/pgqueue/driver"
)

// messageColumns is the message table layout: one row per in-flight message.
// A row exists from insertion until exactly one successful claim deletes it;
// rows are never updated in place.
type messageColumns struct {
	primaryKey driver.Column
	taskID     driver.Column
	taskName   driver.Column
	message    driver.Column
	labels     driver.Column
}

func newMessageColumns(taskIDKind driver.Kind) messageColumns {
	return messageColumns{
		primaryKey: driver.SerialPrimaryKey("id"),
		taskID:     driver.Column{Name: "task_id", Kind: taskIDKind},
		taskName:   driver.Column{Name: "task_name", Kind: driver.KindVarChar},
		message:    driver.Column{Name: "message", Kind: driver.KindBytea},
		labels:     driver.Column{Name: "labels", Kind: driver.KindJSONB},
	}
}

func (c messageColumns) insert() []driver.Column {
	return []driver.Column{c.taskID, c.taskName, c.message, c.labels}
}

// Broker delivers each enqueued message to exactly one of many concurrently
// listening workers. NOTIFY is a broadcast, so every listener learns about
// every message; the atomic DELETE ... RETURNING claim ensures a single
// winner per row. Cross-process exclusion is entirely the database's
// row-level locking; no in-process state participates.
type Broker struct {
	cfg      Config
	cols     messageColumns
	driver   driver.Driver
	listener driver.ListenDriver
	log      *slog.Logger
}

// New constructs a broker over the backend named by cfg.Driver. The injected
// drivers option replaces the registry lookup, which tests use to run the
// broker against in-memory fakes.
func New(cfg Config, opts ...Option) (*Broker, error) {
	options := &brokerOptions{
		logger:     slog.Default(),
		taskIDKind: driver.KindUUID,
	}
	for _, opt := range opts {
		opt(options)
	}

	cols := newMessageColumns(options.taskIDKind)

	d := options.driver
	l := options.listener
	if d == nil {
		schema := driver.Schema{
			Table:        cfg.TableName,
			PrimaryKey:   cols.primaryKey,
			Columns:      cols.insert(),
			IndexColumns: []driver.Column{cols.primaryKey},
			Migrate:      cfg.Migrate,
		}

		var err error
		if d, err = driver.New(cfg.Driver, cfg.Connection, schema); err != nil {
			return nil, err
		}
		if l, err = driver.NewListener(cfg.Driver, cfg.Connection, cfg.ChannelName); err != nil {
			return nil, err
		}
	}

	return &Broker{
		cfg:      cfg,
		cols:     cols,
		driver:   d,
		listener: l,
		log:      options.logger,
	}, nil
}

// Startup establishes the row-operation pool, creates the message table and
// index, and opens the dedicated listener connection.
func (b *Broker) Startup(ctx context.Context) error {
	if err := b.driver.Startup(ctx); err != nil {
		return err
	}
	if !b.cfg.Migrate {
		if err := b.driver.CreateTable(ctx); err != nil {
			return err
		}
		if err := b.driver.CreateIndex(ctx); err != nil {
			return err
		}
	}

	return b.listener.Startup(ctx)
}

// Shutdown closes the listener connection and releases the pool. Safe to
// call more than once.
func (b *Broker) Shutdown(ctx context.Context) error {
	lerr := b.listener.Shutdown(ctx)
	derr := b.driver.Shutdown(ctx)
	return errors.Join(lerr, derr)
}

// Send inserts the message row and publishes a notification carrying the
// generated row key. A "delay" label (whole seconds) defers the publish to a
// process-local timer; the timer is not persisted, so a restart before it
// fires leaves the row unclaimed (see package docs).
//
// A publish failure on the immediate path is logged and returned; the
// inserted row remains as an orphan.
func (b *Broker) Send(ctx context.Context, msg Message) error {
	if len(msg.Payload) == 0 {
		return ErrEmptyPayload
	}

	delay, err := msg.delay()
	if err != nil {
		return err
	}

	labels := msg.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	id, err := b.driver.Insert(ctx,
		b.cols.insert(),
		[]any{msg.TaskID, msg.TaskName, msg.Payload, labels},
		[]driver.Column{b.cols.primaryKey},
	)
	if err != nil {
		return fmt.Errorf("failed to insert message %q: %w", msg.TaskID, err)
	}

	if delay > 0 {
		b.schedulePublish(id, delay)
		return nil
	}

	if err := b.publish(ctx, id); err != nil {
		b.log.Error("failed to publish notification",
			slog.Any("message_id", id),
			slog.String("channel", b.cfg.ChannelName),
			slog.String("error", err.Error()))
		return errors.Join(ErrPublishFailed, err)
	}

	return nil
}

// publish announces the row key on the notification channel. pg_notify keeps
// the channel and payload parameterized; the payload is capacity-limited
// text, which is why only the key travels over the wire, never the body.
func (b *Broker) publish(ctx context.Context, id any) error {
	_, err := b.driver.Execute(ctx, "SELECT pg_notify($1, $2)", b.cfg.ChannelName, fmt.Sprint(id))
	return err
}

// Listen consumes the notification sequence and yields successfully claimed
// messages. For every payload it attempts the atomic claim; a nil row means
// another worker won the race and the payload is skipped. Per-message
// anomalies (malformed payload, malformed row, claim errors) are logged and
// skipped so one bad message never stalls the loop. The returned channel
// closes only when the listener connection closes or ctx ends.
func (b *Broker) Listen(ctx context.Context) <-chan AckableMessage {
	out := make(chan AckableMessage)
	go b.listenLoop(ctx, out)
	return out
}

func (b *Broker) listenLoop(ctx context.Context, out chan<- AckableMessage) {
	defer close(out)

	for {
		payload, err := b.listener.Next(ctx)
		if err != nil {
			if errors.Is(err, driver.ErrListenerClosed) {
				b.log.Info("listener connection closed, listen loop ending",
					slog.String("channel", b.cfg.ChannelName))
			} else if ctx.Err() == nil {
				b.log.Error("failed to read notification",
					slog.String("channel", b.cfg.ChannelName),
					slog.String("error", err.Error()))
			}
			return
		}

		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			b.log.Warn("invalid notification payload, skipping",
				slog.String("payload", payload),
				slog.String("channel", b.cfg.ChannelName))
			continue
		}

		row, err := b.driver.DeleteReturning(ctx, b.cols.primaryKey, id,
			[]driver.Column{b.cols.message})
		if err != nil {
			b.log.Error("failed to claim message",
				slog.Int64("message_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if row == nil {
			// Another worker claimed the row first. Expected, not an error.
			continue
		}

		data := asBytes(row[b.cols.message.Name])
		if len(data) == 0 {
			b.log.Warn("claimed message has no payload, skipping",
				slog.Int64("message_id", id))
			continue
		}

		msg := AckableMessage{
			Data: data,
			// The row was deleted at claim time; acknowledgment has nothing
			// left to do.
			Ack: func() error { return nil },
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func asBytes(value any) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
