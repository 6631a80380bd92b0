// -----------------------------------------------------------------------
// Payload decoding and event assembly shared by the job workers
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var validate = validator.New()

// decodePayload maps job.Data onto out and runs its validate tags.
// Any failure is a validation error with a user-facing message.
func decodePayload(data map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.NewValidationError("The submitted data could not be read.", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.NewValidationError("The submitted data is malformed.", err)
	}
	if err := validate.Struct(out); err != nil {
		return models.NewValidationError(validationMessage(err), err)
	}
	return nil
}

// validationMessage names the first offending field
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required.", fe.Field())
		case "datetime":
			return fmt.Sprintf("%s must match %s.", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid.", fe.Field())
		}
	}
	return models.DefaultErrorMessage(models.ErrorCodeValidation)
}

// parseSchedule combines date and optional time strings into start and end instants
func parseSchedule(startDate, startTime, endDate, endTime string, loc *time.Location) (time.Time, *time.Time, error) {
	start, err := parseDateTime(startDate, startTime, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid start: %w", err)
	}

	if endDate == "" && endTime == "" {
		return start, nil, nil
	}
	if endDate == "" {
		endDate = startDate
	}

	end, err := parseDateTime(endDate, endTime, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, nil, fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, &end, nil
}

func parseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	if clock == "" {
		return time.ParseInLocation(dateLayout, date, loc)
	}
	return time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, loc)
}

// eventFromExtraction converts one analyzed flyer event into a domain event
func eventFromExtraction(ex models.ExtractedEvent, jobID string, ownerID string, visibility models.EventVisibility) (*models.Event, error) {
	title := strings.TrimSpace(ex.Title)
	if title == "" {
		return nil, fmt.Errorf("extracted event has no title")
	}

	start, end, err := parseSchedule(ex.StartDate, ex.StartTime, ex.EndDate, ex.EndTime, time.UTC)
	if err != nil {
		return nil, err
	}

	if visibility == "" {
		visibility = models.EventVisibilityPublic
	}

	return &models.Event{
		ID:          common.NewEventID(),
		Title:       title,
		Description: strings.TrimSpace(ex.Description),
		StartDate:   start,
		EndDate:     end,
		Venue:       strings.TrimSpace(ex.Venue),
		Address:     strings.TrimSpace(ex.Address),
		Category:    ex.Category,
		Visibility:  visibility,
		Source:      models.EventSourceFlyer,
		OwnerID:     ownerID,
		JobID:       jobID,
	}, nil
}

// enrichment resolves location and embedding on a best-effort basis;
// either service may be nil or failing without failing the job
type enrichment struct {
	geocoder   interfaces.Geocoder
	embeddings interfaces.EmbeddingService
}

func (e enrichment) locate(ctx context.Context, event *models.Event, logger arbor.ILogger) {
	if e.geocoder == nil || event.Location != nil {
		return
	}
	address := event.Address
	if address == "" {
		address = event.Venue
	}
	if address == "" {
		return
	}

	point, err := e.geocoder.Geocode(ctx, address)
	if err != nil {
		logger.Warn().Err(err).Str("address", address).Msg("Geocoding failed, continuing without location")
		return
	}
	if point == nil {
		logger.Debug().Str("address", address).Msg("No geocoding match")
		return
	}
	event.Location = point
}

func (e enrichment) index(ctx context.Context, event *models.Event, logger arbor.ILogger) {
	if e.embeddings == nil {
		return
	}
	text := strings.TrimSpace(event.Title + "\n" + event.Description + "\n" + event.Venue)
	vector, err := e.embeddings.GenerateEmbedding(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Str("event_id", event.ID).Msg("Embedding generation failed, continuing without embedding")
		return
	}
	event.Embedding = vector
}

// checkQuota turns a quota refusal into a resource-limit error
func checkQuota(ctx context.Context, quota interfaces.QuotaChecker, userID string) error {
	if quota == nil {
		return nil
	}
	if err := quota.Allow(ctx, userID); err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			return models.NewQuotaError("", err)
		}
		return models.NewServiceError(err)
	}
	return nil
}

// readBuffer loads the job's upload; a missing buffer is a validation error
func readBuffer(ctx context.Context, store interfaces.JobStore, jobID string) ([]byte, error) {
	payload, err := store.GetBuffer(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrBufferNotFound) {
			return nil, models.NewValidationError("The uploaded image is missing. Please upload it again.", err)
		}
		return nil, models.NewServiceError(err)
	}
	return payload, nil
}
