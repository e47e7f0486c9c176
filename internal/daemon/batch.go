package daemon

import (
	"context"
	"time"

	"github.com/harun/closedai/internal/telegram"
)

// runBatch replays the queue, handles every update received since the
// saved cursor, gives its own transient failures one more chance and
// exits. A conflict with a polling instance ends the run quietly.
func (d *Daemon) runBatch(ctx context.Context) error {
	log := d.logger.Zerolog()

	d.drainQueue(ctx, initialDrainLimit)

	cursor, err := d.store.UpdateCursor(ctx)
	if err != nil {
		return err
	}

	updates, err := d.bot.Pending(ctx, cursor+1)
	if err != nil {
		if telegram.IsConflict(err) {
			log.Info().Msg("Conflict detected during update fetch, skipping")
			return nil
		}
		return err
	}
	log.Info().Int("updates", len(updates)).Int("cursor", cursor).Msg("Processing pending updates")

	for _, update := range updates {
		d.handleUpdate(ctx, update)
		// Saved per update so a crash does not replay handled messages.
		if err := d.store.SetUpdateCursor(ctx, update.UpdateID); err != nil {
			log.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to save update cursor")
		}
	}

	if pending, err := d.store.CountPending(ctx); err == nil && pending > 0 {
		log.Info().
			Int("pending", pending).
			Dur("delay", d.opts.BatchRetryDelay).
			Msg("Queue is not empty, waiting for a final retry attempt")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.opts.BatchRetryDelay):
		}
		d.drainQueue(ctx, finalDrainLimit)
	}

	if err := d.lease.Heartbeat(ctx); err != nil {
		log.Warn().Err(err).Msg("Final heartbeat failed")
	}
	return nil
}

// drainQueue replays up to limit queued requests, stopping once nothing is
// pending.
func (d *Daemon) drainQueue(ctx context.Context, limit int) {
	log := d.logger.Zerolog()
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		pending, err := d.store.CountPending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to count queued requests")
			return
		}
		if pending == 0 {
			return
		}
		if _, err := d.queue.DequeueOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Queue worker failed")
		}
	}
}
