package pgqueue

import "errors"

var (
	// ErrEmptyPayload is returned when Send is called with no payload bytes.
	ErrEmptyPayload = errors.New("message payload cannot be empty")

	// ErrInvalidDelay is returned when the delay label is not a non-negative
	// integer number of seconds.
	ErrInvalidDelay = errors.New("delay label must be a non-negative integer of seconds")

	// ErrPublishFailed wraps a failure to publish the notification for an
	// inserted message. The row stays in the table as an orphan.
	ErrPublishFailed = errors.New("failed to publish notification")

	// ErrResultMissing is returned when no result is stored for a task.
	ErrResultMissing = errors.New("result is missing")

	// ErrConfigParse is returned when environment configuration cannot be
	// parsed.
	ErrConfigParse = errors.New("failed to parse configuration")
)
