package scheduler

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// CleanupJobName is the scheduler entry that enqueues outdated-event cleanup
const CleanupJobName = "cleanup_outdated_events"

// NewCleanupTrigger returns a scheduled handler that enqueues one cleanup job.
// It does nothing while a cleanup chain is still pending or processing.
func NewCleanupTrigger(store interfaces.JobStore, batchSize int, logger arbor.ILogger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		active, err := store.GetJobs(ctx, models.JobFilter{
			Type:     models.JobTypeCleanupOutdatedEvents,
			Statuses: []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing},
			Limit:    1,
		})
		if err != nil {
			return fmt.Errorf("failed to check active cleanup jobs: %w", err)
		}
		if len(active) > 0 {
			logger.Debug().
				Str("job_id", active[0].ID).
				Msg("Cleanup already in progress, skipping scheduled run")
			return nil
		}

		id, err := store.EnqueueCleanupJob(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("failed to enqueue cleanup job: %w", err)
		}

		logger.Info().
			Str("job_id", id).
			Int("batch_size", batchSize).
			Msg("Scheduled cleanup job enqueued")
		return nil
	}
}
