// -----------------------------------------------------------------------
// Multi-Event Flyer Worker - one flyer image listing several events
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
)

// MultiEventFlyerWorker processes process_multi_event_flyer jobs
type MultiEventFlyerWorker struct {
	queue.BaseHandler
	events   interfaces.EventRepository
	analyzer interfaces.FlyerAnalyzer
	quota    interfaces.QuotaChecker
	enrich   enrichment
}

var _ queue.JobHandler = (*MultiEventFlyerWorker)(nil)

// NewMultiEventFlyerWorker creates a new multi-event flyer worker
func NewMultiEventFlyerWorker(
	table *models.JobTypeTable,
	events interfaces.EventRepository,
	analyzer interfaces.FlyerAnalyzer,
	geocoder interfaces.Geocoder,
	embeddings interfaces.EmbeddingService,
	quota interfaces.QuotaChecker,
	logger arbor.ILogger,
) *MultiEventFlyerWorker {
	return &MultiEventFlyerWorker{
		BaseHandler: queue.NewBaseHandler(models.JobTypeProcessMultiEventFlyer, table, logger),
		events:      events,
		analyzer:    analyzer,
		quota:       quota,
		enrich:      enrichment{geocoder: geocoder, embeddings: embeddings},
	}
}

// Handle extracts every event on the image. Events whose dates cannot be read
// are skipped; the job fails only when none survive.
func (w *MultiEventFlyerWorker) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *queue.ExecutionContext) error {
	logger := w.Logger(jobID)

	return w.Execute(ctx, ec, jobID, func(ctx context.Context) error {
		if err := w.StartJob(ctx, ec, jobID, "Preparing flyer"); err != nil {
			return err
		}

		var payload flyerPayload
		if err := decodePayload(job.Data, &payload); err != nil {
			return err
		}

		if err := w.Step(ctx, ec, jobID, 2, "Checking upload limits", 10); err != nil {
			return err
		}
		if err := checkQuota(ctx, w.quota, payload.UserID); err != nil {
			return err
		}
		image, err := readBuffer(ctx, ec.Store, jobID)
		if err != nil {
			return err
		}

		if err := w.Step(ctx, ec, jobID, 3, "Analyzing flyer", 20); err != nil {
			return err
		}
		analysis, err := w.analyzer.AnalyzeFlyer(ctx, image, payload.MimeType, true)
		if err != nil {
			return models.NewServiceError(err)
		}
		if analysis == nil || !analysis.IsEventFlyer || len(analysis.Events) == 0 {
			return models.NewValidationError("We couldn't find event details in this image.", nil)
		}

		if err := w.Step(ctx, ec, jobID, 4, fmt.Sprintf("Reading %d events", len(analysis.Events)), 40); err != nil {
			return err
		}
		events := make([]*models.Event, 0, len(analysis.Events))
		skipped := 0
		for i, ex := range analysis.Events {
			event, err := eventFromExtraction(ex, jobID, payload.UserID, models.EventVisibility(payload.Visibility))
			if err != nil {
				skipped++
				logger.Warn().Err(err).Int("index", i).Str("title", ex.Title).Msg("Skipping unreadable event")
				continue
			}
			events = append(events, event)
		}
		if len(events) == 0 {
			return models.NewValidationError("None of the event dates on this flyer could be read.", nil)
		}

		if err := w.Step(ctx, ec, jobID, 5, "Finding locations", 55); err != nil {
			return err
		}
		for _, event := range events {
			w.enrich.locate(ctx, event, logger)
		}

		if err := w.Step(ctx, ec, jobID, 6, "Indexing events", 70); err != nil {
			return err
		}
		for _, event := range events {
			w.enrich.index(ctx, event, logger)
		}

		if err := w.Step(ctx, ec, jobID, 7, "Saving events", 85); err != nil {
			return err
		}
		if err := w.events.SaveEvents(ctx, events); err != nil {
			return models.NewServiceError(err)
		}

		if err := w.Step(ctx, ec, jobID, 8, "Finalizing", 95); err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		for _, event := range events {
			ids = append(ids, event.ID)
		}

		return w.CompleteJob(ctx, ec, jobID, map[string]interface{}{
			"eventIds": ids,
			"count":    len(ids),
			"skipped":  skipped,
			"provider": analysis.Provider,
		}, ids[0])
	})
}
