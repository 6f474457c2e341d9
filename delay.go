package pgqueue

import (
	"context"
	"log/slog"
	"time"
)

// schedulePublish defers the notification for an inserted row to a one-shot
// timer. The deadline lives only in this process: it is not persisted, and a
// restart between Send and the fire time silently drops the notification,
// leaving the row unclaimed. This mirrors the delayed-delivery contract;
// crash-safe delayed delivery would require persisting the deadline in the
// row itself.
//
// A registered publish cannot be cancelled; Shutdown does not wait for
// pending timers.
func (b *Broker) schedulePublish(id any, delay time.Duration) {
	b.log.Debug("scheduling delayed notification",
		slog.Any("message_id", id),
		slog.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		// There is no caller to surface this error to; log and move on. The
		// row stays in the table as an orphan if the publish fails.
		if err := b.publish(context.Background(), id); err != nil {
			b.log.Error("failed to publish delayed notification",
				slog.Any("message_id", id),
				slog.String("channel", b.cfg.ChannelName),
				slog.String("error", err.Error()))
		}
	})
}
