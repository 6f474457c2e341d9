package driver

import (
	"context"
	"sync"
)

// notifyQueue is the unbounded FIFO between a backend's notification
// callback and the consuming iteration. Enqueue never blocks, so a delivery
// callback can never stall the connection; Dequeue suspends until an item
// arrives. A bounded channel is unsuitable here because a full buffer would
// force the callback to either block or drop payloads silently.
type notifyQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
	closed bool
}

func newNotifyQueue() *notifyQueue {
	return &notifyQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a payload without blocking. Payloads arriving after Close
// are discarded.
func (q *notifyQueue) Enqueue(payload string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, payload)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest payload, suspending until one is
// available. It returns ErrQueueClosed once the queue is closed and drained,
// or the context error if ctx ends first.
func (q *notifyQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			// Keep the signal armed while items remain so concurrent
			// consumers are not left waiting on an empty channel.
			if len(q.items) > 0 {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

// Close marks the queue closed. Buffered payloads remain readable; Dequeue
// reports ErrQueueClosed once they are drained.
func (q *notifyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
