package tasks

import (
	"context"
	"fmt"
	"time"
)

// newPruneEventsTask creates the scheduled task that removes chat events
// older than the configured retention horizon. Config validation guarantees
// the retention is never shorter than the quota window, so pruning cannot
// touch events that still count toward admission.
func newPruneEventsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "prune_events")

	return func(ctx context.Context) error {
		retention := deps.Config.Scheduler.EventRetention
		cutoff := time.Now().UTC().Add(-retention)

		log.InfoContext(ctx, "Starting scheduled event pruning task...", "cutoff", cutoff)
		startTime := time.Now()

		pruned, err := deps.Store.PruneEventsBefore(ctx, cutoff)

		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Event pruning task failed", "error", err, "duration", duration)
			return fmt.Errorf("event pruning failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled event pruning task completed successfully",
			"pruned", pruned, "duration", duration)
		return nil
	}
}
