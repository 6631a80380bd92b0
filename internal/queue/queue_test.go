package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/services/events"
	"github.com/ternarybob/eventjobs/internal/storage/badger"
)

// newTestStore returns an in-memory job store wired to an in-process broker
func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	broker := events.NewService(logger, 64, time.Second)
	t.Cleanup(func() { _ = broker.Close() })

	store, err := badger.NewJobStorage(db, "test", broker, models.DefaultJobTypeTable(), logger)
	require.NoError(t, err)
	return store
}

func newTestRegistry(t *testing.T) (*Registry, interfaces.JobStore) {
	t.Helper()
	store := newTestStore(t)
	return NewRegistry(store, models.DefaultJobTypeTable(), arbor.NewLogger()), store
}

// funcHandler adapts a function to JobHandler and counts invocations
type funcHandler struct {
	BaseHandler
	calls atomic.Int32
	fn    func(ctx context.Context, h *funcHandler, jobID string, job *models.JobRecord, ec *ExecutionContext) error
}

func newFuncHandler(jobType models.JobType, fn func(ctx context.Context, h *funcHandler, jobID string, job *models.JobRecord, ec *ExecutionContext) error) *funcHandler {
	return &funcHandler{
		BaseHandler: NewBaseHandler(jobType, models.DefaultJobTypeTable(), arbor.NewLogger()),
		fn:          fn,
	}
}

func (h *funcHandler) Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *ExecutionContext) error {
	h.calls.Add(1)
	return h.fn(ctx, h, jobID, job, ec)
}

func waitForStatus(t *testing.T, store interfaces.JobStore, id string, status models.JobStatus) *models.JobRecord {
	t.Helper()
	var job *models.JobRecord
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

func fastConfig() Config {
	return Config{
		PollInterval:    10 * time.Millisecond,
		Concurrency:     2,
		JobTimeout:      5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}
