package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/models"
)

// EventStore implements interfaces.EventRepository on Redis.
// Events are JSON strings indexed by two Sorted Sets: last date (cleanup) and start date (listing).
type EventStore struct {
	client *goredis.Client
	logger arbor.ILogger
	prefix string
}

// NewEventStore shares the job store's client and key prefix.
func NewEventStore(s *Store) *EventStore {
	return &EventStore{client: s.client, logger: s.logger, prefix: s.prefix}
}

func (e *EventStore) eventKey(id string) string { return e.prefix + "event:" + id }

func (e *EventStore) lastDateKey() string { return e.prefix + "event_last_date" }

func (e *EventStore) startDateKey() string { return e.prefix + "event_start_date" }

func (e *EventStore) SaveEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		return fmt.Errorf("eventjobs/redis: event ID is required")
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventjobs/redis: marshal event: %w", err)
	}

	_, err = e.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, e.eventKey(event.ID), encoded, 0)
		pipe.ZAdd(ctx, e.lastDateKey(), goredis.Z{Score: float64(event.LastDate().Unix()), Member: event.ID})
		pipe.ZAdd(ctx, e.startDateKey(), goredis.Z{Score: float64(event.StartDate.Unix()), Member: event.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("eventjobs/redis: save event: %w", err)
	}
	return nil
}

func (e *EventStore) SaveEvents(ctx context.Context, events []*models.Event) error {
	for _, event := range events {
		if err := e.SaveEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (e *EventStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	raw, err := e.client.Get(ctx, e.eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("event not found: %s", id)
		}
		return nil, fmt.Errorf("eventjobs/redis: get event: %w", err)
	}

	var event models.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("eventjobs/redis: decode event: %w", err)
	}
	return &event, nil
}

// ListEvents returns events ordered by start date, newest first.
func (e *EventStore) ListEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := e.client.ZRevRange(ctx, e.startDateKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("eventjobs/redis: list events: %w", err)
	}

	events := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		event, err := e.GetEvent(ctx, id)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (e *EventStore) CountEvents(ctx context.Context) (int, error) {
	n, err := e.client.ZCard(ctx, e.lastDateKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("eventjobs/redis: count events: %w", err)
	}
	return int(n), nil
}

// DeleteOutdated reads limit+1 ids below the cutoff; the extra one signals hasMore.
func (e *EventStore) DeleteOutdated(ctx context.Context, before time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, fmt.Errorf("limit must be positive, got %d", limit)
	}

	ids, err := e.client.ZRangeByScore(ctx, e.lastDateKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("eventjobs/redis: scan outdated events: %w", err)
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return 0, false, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = e.eventKey(id)
		members[i] = id
	}

	var delCmd *goredis.IntCmd
	_, err = e.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, e.lastDateKey(), members...)
		pipe.ZRem(ctx, e.startDateKey(), members...)
		return nil
	})
	if err != nil {
		return 0, true, fmt.Errorf("eventjobs/redis: delete outdated events: %w", err)
	}

	return int(delCmd.Val()), hasMore, nil
}
