package interfaces

import (
	"context"

	"github.com/ternarybob/eventjobs/internal/models"
)

// JobStore is the single source of truth for job records, the pending queue,
// buffer blobs and per-job update notifications.
//
// UpdateJobStatus is atomic per job id: merge and publish happen under one
// lock or transaction, so subscribers see updates in write order. Every
// published message is the complete merged record.
type JobStore interface {
	// Enqueue
	CreateJob(ctx context.Context, jobType models.JobType, data map[string]interface{}) (string, error)
	CreateJobWithBuffer(ctx context.Context, jobType models.JobType, data map[string]interface{}, payload []byte) (string, error)
	EnqueueCleanupJob(ctx context.Context, batchSize int) (string, error)

	// Lookup
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	GetJobs(ctx context.Context, filter models.JobFilter) ([]*models.JobRecord, error)

	// Writes
	UpdateJobStatus(ctx context.Context, id string, update models.JobUpdate) (*models.JobRecord, error)
	FailJob(ctx context.Context, id string, errorCode string, message string) (*models.JobRecord, error)
	CompleteJob(ctx context.Context, id string, result map[string]interface{}, eventID string) (*models.JobRecord, error)

	// Pending queue
	PopPending(ctx context.Context) (string, error)
	PendingLength(ctx context.Context) (int, error)

	// Buffer side-channel
	GetBuffer(ctx context.Context, id string) ([]byte, error)
	DeleteBuffer(ctx context.Context, id string) error

	// Notifications
	Subscribe(ctx context.Context, id string) (Subscription, error)

	Close() error
}

// Subscription receives the full record after every update to one job.
// Close is idempotent and releases the subscriber immediately.
type Subscription interface {
	C() <-chan *models.JobRecord
	Close() error
}
