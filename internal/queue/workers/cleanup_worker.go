// -----------------------------------------------------------------------
// Cleanup Worker - deletes outdated events in bounded, chained batches
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
)

// DefaultCleanupBatchSize applies when the job data carries no batchSize
const DefaultCleanupBatchSize = 100

type cleanupPayload struct {
	BatchSize int `json:"batchSize" validate:"omitempty,min=1,max=10000"`
}

// CleanupWorker processes cleanup_outdated_events jobs. It reports progress on
// the fractional scale (0.0 - 1.0). When the repository signals more outdated
// events remain, it enqueues exactly one follow-up job with the same batch size.
type CleanupWorker struct {
	queue.BaseHandler
	events    interfaces.EventRepository
	retention time.Duration
	now       func() time.Time
}

var _ queue.JobHandler = (*CleanupWorker)(nil)

// NewCleanupWorker creates a new cleanup worker. Events whose last date is older
// than retention are outdated.
func NewCleanupWorker(table *models.JobTypeTable, events interfaces.EventRepository, retention time.Duration, logger arbor.ILogger) *CleanupWorker {
	return &CleanupWorker{
		BaseHandler: queue.NewBaseHandler(models.JobTypeCleanupOutdatedEvents, table, logger),
		events:      events,
		retention:   retention,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (w *CleanupWorker) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *queue.ExecutionContext) error {
	logger := w.Logger(jobID)

	return w.Execute(ctx, ec, jobID, func(ctx context.Context) error {
		if err := w.StartJob(ctx, ec, jobID, "Finding outdated events"); err != nil {
			return err
		}

		var payload cleanupPayload
		if err := decodePayload(job.Data, &payload); err != nil {
			return err
		}
		batchSize := payload.BatchSize
		if batchSize == 0 {
			batchSize = DefaultCleanupBatchSize
		}

		cutoff := w.now().Add(-w.retention)

		if err := w.Step(ctx, ec, jobID, 2, "Deleting outdated events", 35); err != nil {
			return err
		}
		deleted, hasMore, err := w.events.DeleteOutdated(ctx, cutoff, batchSize)
		if err != nil {
			return models.NewServiceError(err)
		}

		result := map[string]interface{}{
			"deleted":   deleted,
			"hasMore":   hasMore,
			"batchSize": batchSize,
			"cutoff":    cutoff.Format(time.RFC3339),
		}

		if hasMore {
			if err := w.Step(ctx, ec, jobID, 3, "Scheduling next batch", 80); err != nil {
				return err
			}
			nextID, err := ec.Store.EnqueueCleanupJob(ctx, batchSize)
			if err != nil {
				return models.NewServiceError(err)
			}
			result["nextJobId"] = nextID
			logger.Info().
				Int("deleted", deleted).
				Str("next_job_id", nextID).
				Msg("Outdated events remain, follow-up cleanup enqueued")
		} else {
			logger.Info().Int("deleted", deleted).Msg("Outdated event cleanup finished")
		}

		return w.CompleteJob(ctx, ec, jobID, result, "")
	})
}
