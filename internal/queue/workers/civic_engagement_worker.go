// -----------------------------------------------------------------------
// Civic Engagement Worker - intake of a public meeting or consultation page
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
)

type civicPayload struct {
	URL       string `json:"url" validate:"required,url"`
	UserID    string `json:"userId"`
	Title     string `json:"title" validate:"max=200"`
	StartDate string `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	StartTime string `json:"startTime" validate:"omitempty,datetime=15:04"`
}

// maxSummaryInput bounds how much page markdown is sent for summarization
const maxSummaryInput = 20000

// CivicEngagementWorker fetches a civic source page and records it as a public event
type CivicEngagementWorker struct {
	queue.BaseHandler
	events   interfaces.EventRepository
	fetcher  interfaces.CivicSourceFetcher
	analyzer interfaces.FlyerAnalyzer
	enrich   enrichment
}

var _ queue.JobHandler = (*CivicEngagementWorker)(nil)

// NewCivicEngagementWorker creates a new civic engagement worker. analyzer may be nil,
// in which case the fetched page summary is used as the description.
func NewCivicEngagementWorker(
	table *models.JobTypeTable,
	events interfaces.EventRepository,
	fetcher interfaces.CivicSourceFetcher,
	analyzer interfaces.FlyerAnalyzer,
	embeddings interfaces.EmbeddingService,
	logger arbor.ILogger,
) *CivicEngagementWorker {
	return &CivicEngagementWorker{
		BaseHandler: queue.NewBaseHandler(models.JobTypeProcessCivicEngagement, table, logger),
		events:      events,
		fetcher:     fetcher,
		analyzer:    analyzer,
		enrich:      enrichment{embeddings: embeddings},
	}
}

func (w *CivicEngagementWorker) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *queue.ExecutionContext) error {
	logger := w.Logger(jobID)

	return w.Execute(ctx, ec, jobID, func(ctx context.Context) error {
		if err := w.StartJob(ctx, ec, jobID, "Checking source"); err != nil {
			return err
		}

		var payload civicPayload
		if err := decodePayload(job.Data, &payload); err != nil {
			return err
		}

		if err := w.Step(ctx, ec, jobID, 2, "Fetching source page", 25); err != nil {
			return err
		}
		page, err := w.fetcher.Fetch(ctx, payload.URL)
		if err != nil {
			var jobErr *models.JobError
			if errors.As(err, &jobErr) {
				return err
			}
			return models.NewServiceError(err)
		}

		if err := w.Step(ctx, ec, jobID, 3, "Summarizing", 55); err != nil {
			return err
		}
		description := page.Summary
		if w.analyzer != nil && page.Markdown != "" {
			text := truncateUTF8(page.Markdown, maxSummaryInput)
			summary, err := w.analyzer.Summarize(ctx, text)
			switch {
			case err != nil:
				logger.Warn().Err(err).Msg("Summarization failed, using page summary")
			case strings.TrimSpace(summary) != "":
				description = strings.TrimSpace(summary)
			}
		}

		start := job.Created.UTC()
		if payload.StartDate != "" {
			start, err = parseDateTime(payload.StartDate, payload.StartTime, time.UTC)
			if err != nil {
				return models.NewValidationError("startDate is invalid.", err)
			}
		}

		title := strings.TrimSpace(payload.Title)
		if title == "" {
			title = strings.TrimSpace(page.Title)
		}
		if title == "" {
			return models.NewValidationError("The source page has no title. Please provide one.", nil)
		}

		event := &models.Event{
			ID:          common.NewEventID(),
			Title:       title,
			Description: description,
			StartDate:   start,
			Category:    "civic",
			Visibility:  models.EventVisibilityPublic,
			Source:      models.EventSourceCivic,
			OwnerID:     payload.UserID,
			SourceURL:   page.URL,
			JobID:       jobID,
		}

		if err := w.Step(ctx, ec, jobID, 4, "Saving event", 85); err != nil {
			return err
		}
		w.enrich.index(ctx, event, logger)
		if err := w.events.SaveEvent(ctx, event); err != nil {
			return models.NewServiceError(err)
		}

		return w.CompleteJob(ctx, ec, jobID, map[string]interface{}{
			"eventId":   event.ID,
			"title":     event.Title,
			"sourceUrl": event.SourceURL,
		}, event.ID)
	})
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
