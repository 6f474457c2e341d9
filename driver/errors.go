package driver

import "errors"

var (
	// ErrConnectionFailed wraps any backend's failure to establish a
	// connection or pool (bad DSN, unreachable host, failed authentication).
	// Callers never need to branch on the underlying client.
	ErrConnectionFailed = errors.New("failed to connect to postgres")

	// ErrNotStarted is returned when an operation runs before Startup or
	// after Shutdown.
	ErrNotStarted = errors.New("driver is not started")

	// ErrUnsupportedDriver is returned by the registry for unknown driver names.
	ErrUnsupportedDriver = errors.New("unsupported driver")

	// ErrNoUpdateColumns is returned when an upsert with ConflictUpdate is
	// built without update columns.
	ErrNoUpdateColumns = errors.New("update columns are required for ON CONFLICT DO UPDATE")

	// ErrListenerClosed signals that the listener connection reported closed
	// and the notification sequence has ended.
	ErrListenerClosed = errors.New("listener connection closed")

	// ErrQueueClosed is returned by notifyQueue operations after Close.
	ErrQueueClosed = errors.New("notification queue closed")
)
