package pgqueue

import (
	"strconv"
	"time"
)

// DelayLabel is the label key that defers a message's notification. Its
// value is the delay in whole seconds.
const DelayLabel = "delay"

// Message is one outbound unit of work handed to the broker by the host
// framework. The payload is opaque; serialization belongs to the host.
type Message struct {
	TaskID   string
	TaskName string
	Payload  []byte
	Labels   map[string]string
}

// delay extracts the notification delay from the label set. A missing label
// means immediate delivery; a malformed value is reported so Send fails fast
// instead of silently dropping the delay.
func (m Message) delay() (time.Duration, error) {
	raw, ok := m.Labels[DelayLabel]
	if !ok {
		return 0, nil
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, ErrInvalidDelay
	}
	return time.Duration(seconds) * time.Second, nil
}

// AckableMessage is a claimed message paired with its acknowledgment
// callback. Ack is a no-op: the row was already deleted atomically at claim
// time, so there is nothing left to confirm and no redelivery on failure.
type AckableMessage struct {
	Data []byte
	Ack  func() error
}
