package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EventStorage implements interfaces.EventRepository for Badger
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventRepository {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EventStorage) SaveEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	if err := s.db.Store().Upsert(event.ID, *event); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *EventStorage) SaveEvents(ctx context.Context, events []*models.Event) error {
	for _, event := range events {
		if err := s.SaveEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventStorage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := s.db.Store().Get(id, &event); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("event not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

// ListEvents returns events ordered by start date, newest first
func (s *EventStorage) ListEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	var events []models.Event
	if err := s.db.Store().Find(&events, nil); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].StartDate.After(events[j].StartDate)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	result := make([]*models.Event, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

func (s *EventStorage) CountEvents(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Event{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(count), nil
}

// DeleteOutdated deletes the oldest outdated events first, at most limit of them
func (s *EventStorage) DeleteOutdated(ctx context.Context, before time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, fmt.Errorf("limit must be positive, got %d", limit)
	}

	// Filter in memory: EndDate is optional, so the cutoff applies to LastDate
	var events []models.Event
	if err := s.db.Store().Find(&events, nil); err != nil {
		return 0, false, fmt.Errorf("failed to scan events: %w", err)
	}

	outdated := make([]models.Event, 0)
	for _, event := range events {
		if event.LastDate().Before(before) {
			outdated = append(outdated, event)
		}
	}

	sort.Slice(outdated, func(i, j int) bool {
		return outdated[i].LastDate().Before(outdated[j].LastDate())
	})

	hasMore := len(outdated) > limit
	if hasMore {
		outdated = outdated[:limit]
	}

	deleted := 0
	for _, event := range outdated {
		if err := ctx.Err(); err != nil {
			return deleted, true, err
		}
		if err := s.db.Store().Delete(event.ID, models.Event{}); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return deleted, true, fmt.Errorf("failed to delete event %s: %w", event.ID, err)
		}
		deleted++
	}

	s.logger.Debug().
		Int("deleted", deleted).
		Bool("has_more", hasMore).
		Str("before", before.Format(time.RFC3339)).
		Msg("Outdated events deleted")

	return deleted, hasMore, nil
}
