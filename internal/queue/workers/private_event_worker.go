package workers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
)

type privateEventPayload struct {
	UserID      string `json:"userId" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	StartDate   string `json:"startDate" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"startTime" validate:"omitempty,datetime=15:04"`
	EndDate     string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	EndTime     string `json:"endTime" validate:"omitempty,datetime=15:04"`
	Venue       string `json:"venue" validate:"max=200"`
	Address     string `json:"address" validate:"max=500"`
	Category    string `json:"category" validate:"max=50"`
	Timezone    string `json:"timezone" validate:"omitempty,timezone"`
}

// PrivateEventWorker creates a private event from user-entered details
type PrivateEventWorker struct {
	queue.BaseHandler
	events interfaces.EventRepository
	enrich enrichment
}

var _ queue.JobHandler = (*PrivateEventWorker)(nil)

// NewPrivateEventWorker creates a new private event worker
func NewPrivateEventWorker(
	table *models.JobTypeTable,
	events interfaces.EventRepository,
	geocoder interfaces.Geocoder,
	embeddings interfaces.EmbeddingService,
	logger arbor.ILogger,
) *PrivateEventWorker {
	return &PrivateEventWorker{
		BaseHandler: queue.NewBaseHandler(models.JobTypeProcessPrivateEvent, table, logger),
		events:      events,
		enrich:      enrichment{geocoder: geocoder, embeddings: embeddings},
	}
}

func (w *PrivateEventWorker) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *queue.ExecutionContext) error {
	logger := w.Logger(jobID)

	return w.Execute(ctx, ec, jobID, func(ctx context.Context) error {
		if err := w.StartJob(ctx, ec, jobID, "Validating event"); err != nil {
			return err
		}

		var payload privateEventPayload
		if err := decodePayload(job.Data, &payload); err != nil {
			return err
		}

		loc := time.UTC
		if payload.Timezone != "" {
			if l, err := time.LoadLocation(payload.Timezone); err == nil {
				loc = l
			}
		}
		start, end, err := parseSchedule(payload.StartDate, payload.StartTime, payload.EndDate, payload.EndTime, loc)
		if err != nil {
			return models.NewValidationError("The event end must be after its start.", err)
		}

		event := &models.Event{
			ID:          common.NewEventID(),
			Title:       payload.Title,
			Description: payload.Description,
			StartDate:   start,
			EndDate:     end,
			Venue:       payload.Venue,
			Address:     payload.Address,
			Category:    payload.Category,
			Visibility:  models.EventVisibilityPrivate,
			Source:      models.EventSourceManual,
			OwnerID:     payload.UserID,
			JobID:       jobID,
		}

		if err := w.Step(ctx, ec, jobID, 2, "Finding location", 30); err != nil {
			return err
		}
		w.enrich.locate(ctx, event, logger)

		if err := w.Step(ctx, ec, jobID, 3, "Indexing event", 60); err != nil {
			return err
		}
		w.enrich.index(ctx, event, logger)

		if err := w.Step(ctx, ec, jobID, 4, "Saving event", 85); err != nil {
			return err
		}
		if err := w.events.SaveEvent(ctx, event); err != nil {
			return models.NewServiceError(err)
		}

		return w.CompleteJob(ctx, ec, jobID, map[string]interface{}{
			"eventId": event.ID,
			"title":   event.Title,
		}, event.ID)
	})
}
