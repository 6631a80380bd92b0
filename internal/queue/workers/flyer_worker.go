// -----------------------------------------------------------------------
// Flyer Worker - turns one uploaded flyer image into one event
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
)

// flyerPayload is the job data for process_flyer and process_multi_event_flyer.
// The image itself travels in the job buffer.
type flyerPayload struct {
	UserID     string `json:"userId" validate:"required"`
	MimeType   string `json:"mimeType" validate:"required,oneof=image/jpeg image/png image/webp image/gif image/heic"`
	Visibility string `json:"visibility" validate:"omitempty,oneof=public private"`
}

// FlyerWorker processes process_flyer jobs
type FlyerWorker struct {
	queue.BaseHandler
	events   interfaces.EventRepository
	analyzer interfaces.FlyerAnalyzer
	quota    interfaces.QuotaChecker
	enrich   enrichment
}

// Compile-time assertion: FlyerWorker implements JobHandler
var _ queue.JobHandler = (*FlyerWorker)(nil)

// NewFlyerWorker creates a new flyer worker. geocoder and embeddings may be nil.
func NewFlyerWorker(
	table *models.JobTypeTable,
	events interfaces.EventRepository,
	analyzer interfaces.FlyerAnalyzer,
	geocoder interfaces.Geocoder,
	embeddings interfaces.EmbeddingService,
	quota interfaces.QuotaChecker,
	logger arbor.ILogger,
) *FlyerWorker {
	return &FlyerWorker{
		BaseHandler: queue.NewBaseHandler(models.JobTypeProcessFlyer, table, logger),
		events:      events,
		analyzer:    analyzer,
		quota:       quota,
		enrich:      enrichment{geocoder: geocoder, embeddings: embeddings},
	}
}

// Handle runs the six flyer phases: prepare, analyze, extract, locate, index, save
func (w *FlyerWorker) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *queue.ExecutionContext) error {
	logger := w.Logger(jobID)

	return w.Execute(ctx, ec, jobID, func(ctx context.Context) error {
		if err := w.StartJob(ctx, ec, jobID, "Preparing flyer"); err != nil {
			return err
		}

		var payload flyerPayload
		if err := decodePayload(job.Data, &payload); err != nil {
			return err
		}
		if err := checkQuota(ctx, w.quota, payload.UserID); err != nil {
			return err
		}

		image, err := readBuffer(ctx, ec.Store, jobID)
		if err != nil {
			return err
		}

		if err := w.Step(ctx, ec, jobID, 2, "Analyzing flyer", 20); err != nil {
			return err
		}
		analysis, err := w.analyzer.AnalyzeFlyer(ctx, image, payload.MimeType, false)
		if err != nil {
			return models.NewServiceError(err)
		}
		if analysis == nil || !analysis.IsEventFlyer || len(analysis.Events) == 0 {
			return models.NewValidationError("We couldn't find event details in this image.", nil)
		}

		if err := w.Step(ctx, ec, jobID, 3, "Reading event details", 45); err != nil {
			return err
		}
		event, err := eventFromExtraction(analysis.Events[0], jobID, payload.UserID, models.EventVisibility(payload.Visibility))
		if err != nil {
			return models.NewValidationError("The event date on this flyer could not be read.", err)
		}

		if err := w.Step(ctx, ec, jobID, 4, "Finding location", 60); err != nil {
			return err
		}
		w.enrich.locate(ctx, event, logger)

		if err := w.Step(ctx, ec, jobID, 5, "Indexing event", 75); err != nil {
			return err
		}
		w.enrich.index(ctx, event, logger)

		if err := w.Step(ctx, ec, jobID, 6, "Saving event", 90); err != nil {
			return err
		}
		if err := w.events.SaveEvent(ctx, event); err != nil {
			return models.NewServiceError(err)
		}

		return w.CompleteJob(ctx, ec, jobID, map[string]interface{}{
			"eventId":  event.ID,
			"title":    event.Title,
			"provider": analysis.Provider,
		}, event.ID)
	})
}
