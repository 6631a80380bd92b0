package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/services/events"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestJobStorage(t *testing.T) (*JobStorage, *events.Service) {
	t.Helper()
	logger := arbor.NewLogger()
	broker := events.NewService(logger, 64, time.Second)
	store, err := NewJobStorage(newTestDB(t), "test", broker, models.DefaultJobTypeTable(), logger)
	require.NoError(t, err)
	return store, broker
}

func receive(t *testing.T, ch <-chan *models.JobRecord) *models.JobRecord {
	t.Helper()
	select {
	case rec, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job update")
		return nil
	}
}

func TestJobStorage_CreateAndGet(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, map[string]interface{}{"title": "Dinner"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeProcessPrivateEvent, job.Type)
	assert.Equal(t, "Dinner", job.Data["title"])
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.Started)
	assert.Nil(t, job.Completed)

	length, err := store.PendingLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestJobStorage_GetJobNotFound(t *testing.T) {
	store, _ := newTestJobStorage(t)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = store.UpdateJobStatus(context.Background(), "missing", models.JobUpdate{Message: models.StringPtr("x")})
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestJobStorage_PopPendingIsFIFO(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		got, err := store.PopPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := store.PopPending(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestJobStorage_BufferLifecycle(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	payload := []byte{0x89, 'P', 'N', 'G'}
	id, err := store.CreateJobWithBuffer(ctx, models.JobTypeProcessFlyer, map[string]interface{}{"mimeType": "image/png"}, payload)
	require.NoError(t, err)

	got, err := store.GetBuffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, store.DeleteBuffer(ctx, id))
	require.NoError(t, store.DeleteBuffer(ctx, id), "delete must be idempotent")

	_, err = store.GetBuffer(ctx, id)
	assert.ErrorIs(t, err, models.ErrBufferNotFound)

	exists, err := store.HasBuffer(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJobStorage_CreateJobWithBufferRejectsEmptyPayload(t *testing.T) {
	store, _ := newTestJobStorage(t)

	_, err := store.CreateJobWithBuffer(context.Background(), models.JobTypeProcessFlyer, nil, nil)
	assert.Error(t, err)

	length, err := store.PendingLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestJobStorage_UpdateIsPartialMerge(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, map[string]interface{}{"userId": "u1"})
	require.NoError(t, err)

	first, err := store.UpdateJobStatus(ctx, id, models.JobUpdate{
		Status:       models.StatusPtr(models.JobStatusProcessing),
		Progress:     models.Float64Ptr(5),
		ProgressStep: models.StringPtr("Starting"),
		ProgressDetails: &models.ProgressDetails{
			CurrentStep: "1",
			TotalSteps:  6,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, first.Started)

	second, err := store.UpdateJobStatus(ctx, id, models.JobUpdate{Progress: models.Float64Ptr(40)})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusProcessing, second.Status)
	assert.Equal(t, float64(40), second.Progress)
	assert.Equal(t, "Starting", second.ProgressStep)
	require.NotNil(t, second.ProgressDetails)
	assert.Equal(t, 6, second.ProgressDetails.TotalSteps)
	assert.Equal(t, "u1", second.Data["userId"])
	assert.True(t, first.Started.Equal(*second.Started), "started is set once")
}

func TestJobStorage_TerminalRecordsNeverChange(t *testing.T) {
	store, broker := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)

	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)

	done, err := store.FailJob(ctx, id, models.ErrorCodeTimeout, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, float64(100), done.Progress)
	assert.Equal(t, models.ErrorCodeTimeout, done.Error)
	assert.Equal(t, models.DefaultErrorMessage(models.ErrorCodeTimeout), done.Message)
	assert.Nil(t, done.Result)
	require.NotNil(t, done.Completed)

	sub, err := broker.Subscribe(ctx, id)
	require.NoError(t, err)
	defer sub.Close()

	_, err = store.CompleteJob(ctx, id, map[string]interface{}{"late": true}, "evt-1")
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Progress: models.Float64Ptr(50)})
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	after, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, after.Status)
	assert.Empty(t, after.EventID)
	assert.Nil(t, after.Result)

	select {
	case rec := <-sub.C():
		t.Fatalf("rejected write was published: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJobStorage_RejectsBackwardTransition(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)

	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)

	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusPending)})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// completing straight from pending skips processing
	id2, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)
	_, err = store.CompleteJob(ctx, id2, nil, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestJobStorage_CompleteJob(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeCleanupOutdatedEvents, map[string]interface{}{"batchSize": 10})
	require.NoError(t, err)
	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)

	done, err := store.CompleteJob(ctx, id, map[string]interface{}{"deleted": 3}, "")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 1.0, done.Progress, "cleanup reports fractional progress")
	assert.Empty(t, done.Error)
	assert.NotNil(t, done.Result)
	require.NotNil(t, done.Completed)
}

func TestJobStorage_CompleteJobWithEmptyResultKeepsResult(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, map[string]interface{}{"title": "Dinner"})
	require.NoError(t, err)
	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)
	_, err = store.CompleteJob(ctx, id, nil, "")
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.NotNil(t, stored.Result, "completed record must carry a result")
	assert.Empty(t, stored.Error)
}

func TestJobStorage_PublishesFullRecordsInOrder(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, map[string]interface{}{"userId": "u1"})
	require.NoError(t, err)

	sub, err := store.Subscribe(ctx, id)
	require.NoError(t, err)
	defer sub.Close()

	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{
		Status:   models.StatusPtr(models.JobStatusProcessing),
		Progress: models.Float64Ptr(5),
	})
	require.NoError(t, err)
	_, err = store.UpdateJobStatus(ctx, id, models.JobUpdate{Message: models.StringPtr("Analyzing")})
	require.NoError(t, err)
	_, err = store.CompleteJob(ctx, id, map[string]interface{}{"ok": true}, "evt-9")
	require.NoError(t, err)

	first := receive(t, sub.C())
	assert.Equal(t, models.JobStatusProcessing, first.Status)
	assert.Equal(t, float64(5), first.Progress)
	assert.Equal(t, "u1", first.Data["userId"], "published messages are full records")

	second := receive(t, sub.C())
	assert.Equal(t, "Analyzing", second.Message)
	assert.Equal(t, float64(5), second.Progress)

	third := receive(t, sub.C())
	assert.Equal(t, models.JobStatusCompleted, third.Status)
	assert.Equal(t, "evt-9", third.EventID)
	assert.Equal(t, true, third.Result["ok"])
}

func TestJobStorage_GetJobsFilterAndOrder(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	flyer1, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)
	flyer2, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)

	_, err = store.UpdateJobStatus(ctx, flyer2, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
	require.NoError(t, err)

	all, err := store.GetJobs(ctx, models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Created.Before(all[i-1].Created), "jobs must be chronological")
	}

	flyers, err := store.GetJobs(ctx, models.JobFilter{Type: models.JobTypeProcessFlyer})
	require.NoError(t, err)
	require.Len(t, flyers, 2)
	assert.Equal(t, flyer1, flyers[0].ID)
	assert.Equal(t, flyer2, flyers[1].ID)

	processing, err := store.GetJobs(ctx, models.JobFilter{Statuses: []models.JobStatus{models.JobStatusProcessing}})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, flyer2, processing[0].ID)

	limited, err := store.GetJobs(ctx, models.JobFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, flyer1, limited[0].ID)
}

func TestJobStorage_EnqueueCleanupJob(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	id, err := store.EnqueueCleanupJob(ctx, 100)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeCleanupOutdatedEvents, job.Type)
	assert.EqualValues(t, 100, job.Data["batchSize"])

	popped, err := store.PopPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, popped)
}

func TestJobStorage_ConcurrentUpdatesAcrossJobs(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	const jobs = 10
	const updates = 20

	ids := make([]string, jobs)
	for i := range ids {
		id, err := store.CreateJob(ctx, models.JobTypeProcessFlyer, map[string]interface{}{"n": i})
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.UpdateJobStatus(ctx, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusProcessing)})
			assert.NoError(t, err)
			for u := 1; u <= updates; u++ {
				_, err := store.UpdateJobStatus(ctx, id, models.JobUpdate{
					Progress: models.Float64Ptr(float64(u)),
					Message:  models.StringPtr(fmt.Sprintf("%s-%d", id, u)),
				})
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for i, id := range ids {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, float64(updates), job.Progress)
		assert.Equal(t, fmt.Sprintf("%s-%d", id, updates), job.Message)
		assert.EqualValues(t, i, job.Data["n"])
	}
	assert.Zero(t, store.locks.Len(), "keyed locks are released")
}
