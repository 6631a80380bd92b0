package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/eventjobs/internal/models"
)

func TestCleanupWorker_ChainsWhenMoreRemain(t *testing.T) {
	env := newTestEnv(t)
	repo := &stubEvents{EventRepository: env.events, deleted: 100, hasMore: true}

	worker := NewCleanupWorker(env.table, repo, 24*time.Hour, env.logger)
	job := env.run(t, worker, map[string]interface{}{"batchSize": 100}, nil)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	assert.EqualValues(t, 100, job.Result["deleted"])
	assert.Equal(t, true, job.Result["hasMore"])
	assert.Equal(t, []int{100}, repo.limits)

	jobs, err := env.store.GetJobs(context.Background(), models.JobFilter{Type: models.JobTypeCleanupOutdatedEvents})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	next := jobs[0]
	if next.ID == job.ID {
		next = jobs[1]
	}
	assert.Equal(t, next.ID, job.Result["nextJobId"])
	assert.Equal(t, models.JobStatusPending, next.Status)
	assert.EqualValues(t, 100, next.Data["batchSize"])

	length, err := env.store.PendingLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestCleanupWorker_StopsWhenDone(t *testing.T) {
	env := newTestEnv(t)
	repo := &stubEvents{EventRepository: env.events, deleted: 7, hasMore: false}

	worker := NewCleanupWorker(env.table, repo, 24*time.Hour, env.logger)
	fixed := time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return fixed }

	job := env.run(t, worker, map[string]interface{}{}, nil)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Nil(t, job.Result["nextJobId"])
	assert.Equal(t, []int{DefaultCleanupBatchSize}, repo.limits)
	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, fixed.Add(-24*time.Hour), repo.cutoffs[0])

	length, err := env.store.PendingLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestCleanupWorker_FractionalProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := &stubEvents{EventRepository: env.events, hasMore: true}
	worker := NewCleanupWorker(env.table, repo, time.Hour, env.logger)

	id, err := env.store.EnqueueCleanupJob(ctx, 10)
	require.NoError(t, err)
	sub, err := env.store.Subscribe(ctx, id)
	require.NoError(t, err)
	defer sub.Close()

	job, err := env.store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NoError(t, worker.Handle(ctx, id, job, env.ec))

	var progress []float64
	for len(progress) < 4 {
		select {
		case rec := <-sub.C():
			progress = append(progress, rec.Progress)
		case <-time.After(2 * time.Second):
			t.Fatalf("saw only %v", progress)
		}
	}
	assert.InDeltaSlice(t, []float64{0.05, 0.35, 0.8, 1.0}, progress, 1e-9)
}

func TestCleanupWorker_RepositoryFailure(t *testing.T) {
	env := newTestEnv(t)
	repo := &stubEvents{EventRepository: env.events, err: errUpstream}

	worker := NewCleanupWorker(env.table, repo, time.Hour, env.logger)
	job := env.run(t, worker, map[string]interface{}{"batchSize": 50}, nil)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.ErrorCodeServiceError, job.Error)
	assert.Equal(t, 1.0, job.Progress)
}

func TestCleanupWorker_RejectsBadBatchSize(t *testing.T) {
	env := newTestEnv(t)
	repo := &stubEvents{EventRepository: env.events}

	worker := NewCleanupWorker(env.table, repo, time.Hour, env.logger)
	job := env.run(t, worker, map[string]interface{}{"batchSize": -4}, nil)

	assert.Equal(t, models.ErrorCodeValidation, job.Error)
	assert.Empty(t, repo.limits)
}
