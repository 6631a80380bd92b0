// Package redis implements interfaces.JobStore on Redis so the api and
// worker processes can share job state over the network. Records are JSON
// strings, the pending queue is a List, and updates fan out over pub/sub.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, logger, redis.WithKeyPrefix("eventjobs:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// maxWatchRetries bounds optimistic-lock retries on a contended record
const maxWatchRetries = 10

// Compile-time interface checks.
var (
	_ interfaces.JobStore        = (*Store)(nil)
	_ interfaces.EventRepository = (*EventStore)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithQueueName sets the pending list name.
func WithQueueName(name string) Option {
	return func(s *Store) { s.queueName = name }
}

// WithJobTTL expires records, buffers and index entries after ttl. Zero keeps them.
func WithJobTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithJobTypeTable sets the table used for terminal progress.
func WithJobTypeTable(table *models.JobTypeTable) Option {
	return func(s *Store) { s.table = table }
}

// WithSubscriberBuffer sets the per-subscription channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(s *Store) { s.subscriberBuffer = n }
}

// Store implements interfaces.JobStore backed by Redis.
type Store struct {
	client           *goredis.Client
	logger           arbor.ILogger
	prefix           string
	queueName        string
	ttl              time.Duration
	table            *models.JobTypeTable
	subscriberBuffer int
	now              func() time.Time
}

// New creates a new Redis-backed store. Close closes client.
func New(client *goredis.Client, logger arbor.ILogger, opts ...Option) *Store {
	s := &Store{
		client:           client,
		logger:           logger,
		prefix:           "eventjobs:",
		queueName:        "eventjobs",
		table:            models.DefaultJobTypeTable(),
		subscriberBuffer: 256,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFromConfig dials Redis using the [storage.redis] section.
func NewFromConfig(config *common.Config, table *models.JobTypeTable, logger arbor.ILogger) (*Store, error) {
	rc := config.Storage.Redis
	client := goredis.NewClient(&goredis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	s := New(client, logger,
		WithKeyPrefix(rc.KeyPrefix),
		WithQueueName(config.Queue.QueueName),
		WithJobTTL(common.ParseDuration(rc.JobTTL, 0)),
		WithJobTypeTable(table),
		WithSubscriberBuffer(config.Stream.SubscriberBuffer),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventjobs/redis: ping %s: %w", rc.Addr, err)
	}

	logger.Info().Str("addr", rc.Addr).Int("db", rc.DB).Msg("Redis job store connected")
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() *goredis.Client { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// CreateJob writes a pending record and appends its id to the pending list.
func (s *Store) CreateJob(ctx context.Context, jobType models.JobType, data map[string]interface{}) (string, error) {
	return s.create(ctx, jobType, data, nil)
}

// CreateJobWithBuffer writes the buffer in the same MULTI block, ahead of the RPUSH.
func (s *Store) CreateJobWithBuffer(ctx context.Context, jobType models.JobType, data map[string]interface{}, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("eventjobs/redis: buffer payload cannot be empty")
	}
	return s.create(ctx, jobType, data, payload)
}

// EnqueueCleanupJob creates a fresh cleanup job for the next batch.
func (s *Store) EnqueueCleanupJob(ctx context.Context, batchSize int) (string, error) {
	return s.CreateJob(ctx, models.JobTypeCleanupOutdatedEvents, map[string]interface{}{
		"batchSize": batchSize,
	})
}

func (s *Store) create(ctx context.Context, jobType models.JobType, data map[string]interface{}, payload []byte) (string, error) {
	if jobType == "" {
		return "", fmt.Errorf("eventjobs/redis: job type is required")
	}

	record := models.NewJobRecord(common.NewJobID(), jobType, data)
	record.Created = s.now()

	encoded, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("eventjobs/redis: marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(record.ID), encoded, s.ttl)
		pipe.ZAdd(ctx, s.jobIDsKey(), goredis.Z{
			Score:  float64(record.Created.UnixNano()),
			Member: record.ID,
		})
		if payload != nil {
			pipe.Set(ctx, s.bufferKey(record.ID), payload, s.ttl)
		}
		pipe.RPush(ctx, s.pendingKey(), record.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("eventjobs/redis: create job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", record.ID).
		Str("job_type", string(jobType)).
		Int("buffer_bytes", len(payload)).
		Msg("Job created")

	return record.ID, nil
}

// GetJob retrieves a record by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	raw, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("eventjobs/redis: get job: %w", err)
	}
	return decodeRecord(raw)
}

// GetJobs loads every indexed record; expired ids are pruned from the index.
func (s *Store) GetJobs(ctx context.Context, filter models.JobFilter) ([]*models.JobRecord, error) {
	ids, err := s.client.ZRange(ctx, s.jobIDsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("eventjobs/redis: list jobs zrange: %w", err)
	}
	if len(ids) == 0 {
		return []*models.JobRecord{}, nil
	}

	const chunk = 200
	jobs := make([]*models.JobRecord, 0, len(ids))
	var expired []interface{}

	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.jobKey(id))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("eventjobs/redis: list jobs mget: %w", err)
		}

		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				expired = append(expired, ids[start+i])
				continue
			}
			record, err := decodeRecord([]byte(str))
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", ids[start+i]).Msg("Skipping undecodable job record")
				continue
			}
			jobs = append(jobs, record)
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.jobIDsKey(), expired...).Err(); err != nil {
			s.logger.Warn().Err(err).Int("count", len(expired)).Msg("Failed to prune expired job ids")
		}
	}

	return models.ApplyFilter(jobs, filter), nil
}

// UpdateJobStatus merges update and publishes the resulting record.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, update models.JobUpdate) (*models.JobRecord, error) {
	return s.mutate(ctx, id, func(*models.JobRecord) models.JobUpdate {
		return update
	})
}

// FailJob writes the failed terminal state in one update.
func (s *Store) FailJob(ctx context.Context, id string, errorCode string, message string) (*models.JobRecord, error) {
	if errorCode == "" {
		errorCode = models.ErrorCodeUnknown
	}
	if message == "" {
		message = models.DefaultErrorMessage(errorCode)
	}
	return s.mutate(ctx, id, func(current *models.JobRecord) models.JobUpdate {
		return models.JobUpdate{
			Status:   models.StatusPtr(models.JobStatusFailed),
			Progress: models.Float64Ptr(s.table.TerminalProgress(current.Type)),
			Error:    models.StringPtr(errorCode),
			Message:  models.StringPtr(message),
		}
	})
}

// CompleteJob writes the completed terminal state in one update.
func (s *Store) CompleteJob(ctx context.Context, id string, result map[string]interface{}, eventID string) (*models.JobRecord, error) {
	if result == nil {
		result = make(map[string]interface{})
	}
	return s.mutate(ctx, id, func(current *models.JobRecord) models.JobUpdate {
		u := models.JobUpdate{
			Status:   models.StatusPtr(models.JobStatusCompleted),
			Progress: models.Float64Ptr(s.table.TerminalProgress(current.Type)),
			Result:   result,
		}
		if eventID != "" {
			u.EventID = models.StringPtr(eventID)
		}
		return u
	})
}

// mutate WATCHes the record, merges, then SETs and PUBLISHes in one MULTI block
// so subscribers see updates in commit order.
func (s *Store) mutate(ctx context.Context, id string, build func(current *models.JobRecord) models.JobUpdate) (*models.JobRecord, error) {
	key := s.jobKey(id)
	var updated *models.JobRecord

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
			}
			return err
		}

		record, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if err := record.Apply(build(record), s.now()); err != nil {
			return err
		}

		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("eventjobs/redis: marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, goredis.KeepTTL)
			pipe.Publish(ctx, s.updatesChannel(id), encoded)
			return nil
		})
		if err != nil {
			return err
		}

		updated = record
		return nil
	}

	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, models.ErrJobTerminal) {
			s.logger.Debug().Str("job_id", id).Msg("Ignoring update to terminal job")
			return nil, err
		}
		if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("eventjobs/redis: update job: %w", err)
	}

	return updated, nil
}

// PopPending claims the oldest pending job id.
func (s *Store) PopPending(ctx context.Context) (string, error) {
	id, err := s.client.LPop(ctx, s.pendingKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", models.ErrNoMessage
		}
		return "", fmt.Errorf("eventjobs/redis: pop pending: %w", err)
	}
	return id, nil
}

// PendingLength returns the pending list length.
func (s *Store) PendingLength(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("eventjobs/redis: pending length: %w", err)
	}
	return int(n), nil
}

// GetBuffer returns the upload blob for id or models.ErrBufferNotFound.
func (s *Store) GetBuffer(ctx context.Context, id string) ([]byte, error) {
	payload, err := s.client.Get(ctx, s.bufferKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, models.ErrBufferNotFound
		}
		return nil, fmt.Errorf("eventjobs/redis: get buffer: %w", err)
	}
	return payload, nil
}

// DeleteBuffer removes the upload blob; DEL on a missing key is not an error.
func (s *Store) DeleteBuffer(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.bufferKey(id)).Err(); err != nil {
		return fmt.Errorf("eventjobs/redis: delete buffer: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the job's channel. It returns
// once Redis has confirmed the subscription, so no later publish is missed.
func (s *Store) Subscribe(ctx context.Context, id string) (interfaces.Subscription, error) {
	ps := s.client.Subscribe(ctx, s.updatesChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("eventjobs/redis: subscribe: %w", err)
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan *models.JobRecord, s.subscriberBuffer),
		done: make(chan struct{}),
	}
	common.SafeGo(s.logger, "redis-subscription-"+id, func() {
		sub.forward(s.logger, id)
	})
	return sub, nil
}

func decodeRecord(raw []byte) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("eventjobs/redis: decode job: %w", err)
	}
	return &record, nil
}
