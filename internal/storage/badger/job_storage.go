package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements interfaces.JobStore on Badger.
// Records are badgerhold values keyed by job id; the pending queue and buffer
// blobs live in raw keys on the same database. Updates for one id are
// serialized by a keyed mutex held across merge and publish.
type JobStorage struct {
	db     *BadgerDB
	queue  *PendingQueue
	broker interfaces.JobUpdateBroker
	table  *models.JobTypeTable
	locks  *keyedMutex
	logger arbor.ILogger
	now    func() time.Time
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, queueName string, broker interfaces.JobUpdateBroker, table *models.JobTypeTable, logger arbor.ILogger) (*JobStorage, error) {
	queue, err := NewPendingQueue(db.Badger(), queueName)
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = models.DefaultJobTypeTable()
	}
	return &JobStorage{
		db:     db,
		queue:  queue,
		broker: broker,
		table:  table,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateJob writes a pending record and appends its id to the pending queue
func (s *JobStorage) CreateJob(ctx context.Context, jobType models.JobType, data map[string]interface{}) (string, error) {
	return s.create(ctx, jobType, data, nil)
}

// CreateJobWithBuffer also stores payload; record, buffer and queue entry commit together
func (s *JobStorage) CreateJobWithBuffer(ctx context.Context, jobType models.JobType, data map[string]interface{}, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("buffer payload cannot be empty")
	}
	return s.create(ctx, jobType, data, payload)
}

// EnqueueCleanupJob creates a fresh cleanup job for the next batch
func (s *JobStorage) EnqueueCleanupJob(ctx context.Context, batchSize int) (string, error) {
	return s.CreateJob(ctx, models.JobTypeCleanupOutdatedEvents, map[string]interface{}{
		"batchSize": batchSize,
	})
}

func (s *JobStorage) create(ctx context.Context, jobType models.JobType, data map[string]interface{}, payload []byte) (string, error) {
	if jobType == "" {
		return "", fmt.Errorf("job type is required")
	}

	record := models.NewJobRecord(common.NewJobID(), jobType, data)
	record.Created = s.now()

	err := update(s.db.Badger(), func(txn *badger.Txn) error {
		if err := s.db.Store().TxInsert(txn, record.ID, *record); err != nil {
			return err
		}
		if payload != nil {
			if err := setBuffer(txn, record.ID, payload); err != nil {
				return err
			}
		}
		return s.queue.Push(txn, record.ID)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_type", string(jobType)).Msg("BadgerDB: Failed to create job")
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", record.ID).
		Str("job_type", string(jobType)).
		Int("buffer_bytes", len(payload)).
		Msg("Job created")

	return record.ID, nil
}

// GetJob returns the record for id or models.ErrJobNotFound
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

// GetJobs scans all records and filters in memory
func (s *JobStorage) GetJobs(ctx context.Context, filter models.JobFilter) ([]*models.JobRecord, error) {
	var records []models.JobRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.JobRecord, len(records))
	for i := range records {
		jobs[i] = &records[i]
	}

	return models.ApplyFilter(jobs, filter), nil
}

// UpdateJobStatus merges update and publishes the resulting record
func (s *JobStorage) UpdateJobStatus(ctx context.Context, id string, update models.JobUpdate) (*models.JobRecord, error) {
	return s.mutate(ctx, id, func(*models.JobRecord) (models.JobUpdate, error) {
		return update, nil
	})
}

// FailJob writes the failed terminal state in one update
func (s *JobStorage) FailJob(ctx context.Context, id string, errorCode string, message string) (*models.JobRecord, error) {
	if errorCode == "" {
		errorCode = models.ErrorCodeUnknown
	}
	if message == "" {
		message = models.DefaultErrorMessage(errorCode)
	}
	return s.mutate(ctx, id, func(current *models.JobRecord) (models.JobUpdate, error) {
		return models.JobUpdate{
			Status:   models.StatusPtr(models.JobStatusFailed),
			Progress: models.Float64Ptr(s.table.TerminalProgress(current.Type)),
			Error:    models.StringPtr(errorCode),
			Message:  models.StringPtr(message),
		}, nil
	})
}

// CompleteJob writes the completed terminal state in one update
func (s *JobStorage) CompleteJob(ctx context.Context, id string, result map[string]interface{}, eventID string) (*models.JobRecord, error) {
	if result == nil {
		result = make(map[string]interface{})
	}
	return s.mutate(ctx, id, func(current *models.JobRecord) (models.JobUpdate, error) {
		u := models.JobUpdate{
			Status:   models.StatusPtr(models.JobStatusCompleted),
			Progress: models.Float64Ptr(s.table.TerminalProgress(current.Type)),
			Result:   result,
		}
		if eventID != "" {
			u.EventID = models.StringPtr(eventID)
		}
		return u, nil
	})
}

// mutate holds the id lock across read, merge, write and publish
func (s *JobStorage) mutate(ctx context.Context, id string, build func(current *models.JobRecord) (models.JobUpdate, error)) (*models.JobRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var updated models.JobRecord
	err := update(s.db.Badger(), func(txn *badger.Txn) error {
		var record models.JobRecord
		if err := s.db.Store().TxGet(txn, id, &record); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
			}
			return err
		}

		u, err := build(&record)
		if err != nil {
			return err
		}
		if err := record.Apply(u, s.now()); err != nil {
			return err
		}

		updated = record
		return s.db.Store().TxUpsert(txn, id, record)
	})
	if err != nil {
		if errors.Is(err, models.ErrJobTerminal) {
			s.logger.Debug().Str("job_id", id).Msg("Ignoring update to terminal job")
		}
		return nil, err
	}

	if s.broker != nil {
		if err := s.broker.Publish(ctx, &updated); err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to publish job update")
		}
	}

	return &updated, nil
}

// PopPending claims the oldest pending job id
func (s *JobStorage) PopPending(ctx context.Context) (string, error) {
	return s.queue.Pop(ctx)
}

// PendingLength returns the number of queued ids
func (s *JobStorage) PendingLength(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// GetBuffer returns the upload blob for id or models.ErrBufferNotFound
func (s *JobStorage) GetBuffer(ctx context.Context, id string) ([]byte, error) {
	return getBuffer(s.db.Badger(), id)
}

// DeleteBuffer removes the upload blob for id; missing blobs are not an error
func (s *JobStorage) DeleteBuffer(ctx context.Context, id string) error {
	return deleteBuffer(s.db.Badger(), id)
}

// HasBuffer reports whether a blob is still stored for id
func (s *JobStorage) HasBuffer(ctx context.Context, id string) (bool, error) {
	return bufferExists(s.db.Badger(), id)
}

// Subscribe registers for full-record updates to id
func (s *JobStorage) Subscribe(ctx context.Context, id string) (interfaces.Subscription, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("job update broker not configured")
	}
	return s.broker.Subscribe(ctx, id)
}

// Close is a no-op; the database is owned by Manager
func (s *JobStorage) Close() error {
	return nil
}
