// Package pgqueue is a durable message broker built on PostgreSQL row
// storage and LISTEN/NOTIFY.
//
// NOTIFY is a broadcast: every listening worker receives every
// notification. The broker turns that broadcast into a single-winner
// delivery with a claim protocol: Send inserts a message row and publishes
// the generated row key on a channel; every worker's listener receives the
// key and attempts an atomic DELETE ... RETURNING on it; the database
// guarantees at most one deleter sees the row, and only that worker yields
// the message to its consumer. Losing the race is the expected common case
// and is skipped silently.
//
// The handoff is at-most-once: a worker that crashes after claiming loses
// the message, and there is no redelivery. Messages carry no ordering
// guarantees relative to each other.
//
// # Usage
//
//	cfg := pgqueue.Config{
//	    Connection:  driver.Config{ConnectionString: dsn},
//	    Driver:      driver.NamePgx,
//	    ChannelName: "pgqueue",
//	    TableName:   "pgqueue_messages",
//	    Migrate:     true,
//	}
//
//	broker, err := pgqueue.New(cfg)
//	if err != nil { ... }
//	if err := broker.Startup(ctx); err != nil { ... }
//	defer broker.Shutdown(ctx)
//
//	// Producer side.
//	err = broker.Send(ctx, pgqueue.Message{
//	    TaskID:   uuid.NewString(),
//	    TaskName: "send_email",
//	    Payload:  body,
//	    Labels:   map[string]string{pgqueue.DelayLabel: "30"},
//	})
//
//	// Consumer side.
//	for msg := range broker.Listen(ctx) {
//	    process(msg.Data)
//	    _ = msg.Ack()
//	}
//
// # Delayed delivery
//
// A "delay" label defers only the notification, not the insert. The timer
// is process-local and not crash-safe: a restart between Send and the fire
// time leaves the row stored but never announced.
//
// # Companions
//
// ResultStore keeps task results as opaque blobs keyed by task ID and
// ScheduleStore persists schedule records; both reuse the driver contract
// against their own tables. The driver subpackage provides three
// interchangeable backends ("pgx", "pgconn", "pq") selected by Config.Driver.
package pgqueue
