package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/services/events"
	"github.com/ternarybob/eventjobs/internal/storage/badger"
)

func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	broker := events.NewService(logger, 16, time.Second)
	t.Cleanup(func() { _ = broker.Close() })

	store, err := badger.NewJobStorage(db, "test", broker, models.DefaultJobTypeTable(), logger)
	require.NoError(t, err)
	return store
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	s := NewService(arbor.NewLogger())
	var runs atomic.Int32

	require.NoError(t, s.RegisterJob("tick", "* * * * * *", "every second", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	status, err := s.GetJobStatus("tick")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.NotNil(t, status.NextRun)
}

func TestScheduler_RejectsBadInput(t *testing.T) {
	s := NewService(arbor.NewLogger())
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.RegisterJob("bad", "every tuesday", "", noop))
	require.NoError(t, s.RegisterJob("ok", "0 0 3 * * *", "", noop))
	assert.Error(t, s.RegisterJob("ok", "0 0 3 * * *", "", noop))

	assert.Error(t, s.TriggerJob("missing"))
	_, err := s.GetJobStatus("missing")
	assert.Error(t, err)
}

func TestScheduler_TriggerRecordsError(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("fails", "0 0 3 * * *", "", func(ctx context.Context) error {
		return errors.New("nothing to do")
	}))

	require.NoError(t, s.TriggerJob("fails"))
	require.Eventually(t, func() bool {
		status, err := s.GetJobStatus("fails")
		return err == nil && status.LastRun != nil
	}, 2*time.Second, 10*time.Millisecond)

	status, err := s.GetJobStatus("fails")
	require.NoError(t, err)
	assert.Equal(t, "nothing to do", status.LastError)
	assert.False(t, status.IsRunning)
}

func TestScheduler_DisableAndEnable(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("job", "0 0 3 * * *", "", func(ctx context.Context) error { return nil }))

	require.NoError(t, s.DisableJob("job"))
	status, err := s.GetJobStatus("job")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.NextRun)

	require.NoError(t, s.EnableJob("job"))
	assert.True(t, s.GetAllJobStatuses()["job"].Enabled)
}

func TestCleanupTrigger_EnqueuesOnce(t *testing.T) {
	store := newTestStore(t)
	trigger := NewCleanupTrigger(store, 50, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, trigger(ctx))
	require.NoError(t, trigger(ctx))

	jobs, err := store.GetJobs(ctx, models.JobFilter{Type: models.JobTypeCleanupOutdatedEvents})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.EqualValues(t, 50, jobs[0].Data["batchSize"])

	// A finished chain allows the next run
	_, err = store.UpdateJobStatus(ctx, jobs[0].ID, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)
	_, err = store.CompleteJob(ctx, jobs[0].ID, nil, "")
	require.NoError(t, err)

	require.NoError(t, trigger(ctx))
	jobs, err = store.GetJobs(ctx, models.JobFilter{Type: models.JobTypeCleanupOutdatedEvents})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
