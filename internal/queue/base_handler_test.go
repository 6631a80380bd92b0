package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/models"
)

func newTestBase(t *testing.T, jobType models.JobType) (BaseHandler, *ExecutionContext) {
	t.Helper()
	registry, _ := newTestRegistry(t)
	return NewBaseHandler(jobType, models.DefaultJobTypeTable(), arbor.NewLogger()), registry.Context()
}

func TestBaseHandler_StartJob(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessFlyer)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)

	require.NoError(t, base.StartJob(ctx, ec, id, "Uploading flyer"))

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, float64(5), job.Progress)
	assert.Equal(t, "Uploading flyer", job.ProgressStep)
	require.NotNil(t, job.ProgressDetails)
	assert.Equal(t, "1", job.ProgressDetails.CurrentStep)
	assert.Equal(t, 6, job.ProgressDetails.TotalSteps)
	assert.NotNil(t, job.Started)
}

func TestBaseHandler_StartJobFractionalScale(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeCleanupOutdatedEvents)
	ctx := context.Background()

	id, err := ec.Store.EnqueueCleanupJob(ctx, 100)
	require.NoError(t, err)

	require.NoError(t, base.StartJob(ctx, ec, id, "Finding outdated events"))

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, job.Progress, 1e-9)
	assert.Equal(t, 3, job.ProgressDetails.TotalSteps)
}

func TestBaseHandler_StepClampsToTotal(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)
	require.NoError(t, base.StartJob(ctx, ec, id, "Validating"))

	require.NoError(t, base.Step(ctx, ec, id, 9, "Saving", 80))

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(80), job.Progress)
	assert.Equal(t, "4", job.ProgressDetails.CurrentStep)
	assert.Equal(t, 4, job.ProgressDetails.TotalSteps)
	assert.Equal(t, "Saving", job.Message)
}

func TestBaseHandler_UpdateJobProgressRejectsTerminal(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)

	err = base.UpdateJobProgress(ctx, ec, id, models.JobUpdate{Status: models.StatusPtr(models.JobStatusCompleted)})
	assert.Error(t, err)

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestBaseHandler_FailJobDeletesBuffer(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessFlyer)
	ctx := context.Background()

	id, err := ec.Store.CreateJobWithBuffer(ctx, models.JobTypeProcessFlyer, nil, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, base.StartJob(ctx, ec, id, "Analyzing"))

	require.NoError(t, base.FailJob(ctx, ec, id, models.NewQuotaError("", nil), ""))

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.ErrorCodeQuotaExceeded, job.Error)
	assert.Equal(t, models.DefaultErrorMessage(models.ErrorCodeQuotaExceeded), job.Message)
	assert.Equal(t, float64(100), job.Progress)

	_, err = ec.Store.GetBuffer(ctx, id)
	assert.ErrorIs(t, err, models.ErrBufferNotFound)
}

func TestBaseHandler_CompleteJobTwiceIsRejected(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)
	require.NoError(t, base.StartJob(ctx, ec, id, "Validating"))

	require.NoError(t, base.CompleteJob(ctx, ec, id, map[string]interface{}{"eventId": "evt_1"}, "evt_1"))
	err = base.FailJob(ctx, ec, id, errors.New("late"), "")
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "evt_1", job.EventID)
	assert.Empty(t, job.Error)
}

func TestBaseHandler_ExecuteRoutesErrors(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)

	err = base.Execute(ctx, ec, id, func(ctx context.Context) error {
		if err := base.StartJob(ctx, ec, id, "Validating"); err != nil {
			return err
		}
		return models.NewServiceError(errors.New("upstream 503"))
	})
	require.NoError(t, err)

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.ErrorCodeServiceError, job.Error)
}

func TestBaseHandler_ExecuteRecoversPanic(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_ = base.Execute(ctx, ec, id, func(ctx context.Context) error {
			var m map[string]int
			m["boom"]++
			return nil
		})
	})

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.ErrorCodeHandlerPanic, job.Error)
}

func TestBaseHandler_ExecuteIgnoresTerminalJob(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessPrivateEvent)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessPrivateEvent, nil)
	require.NoError(t, err)
	_, err = ec.Store.FailJob(ctx, id, models.ErrorCodeTimeout, "")
	require.NoError(t, err)

	err = base.Execute(ctx, ec, id, func(ctx context.Context) error {
		return base.Step(ctx, ec, id, 2, "Saving", 50)
	})
	assert.NoError(t, err)

	job, err := ec.Store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ErrorCodeTimeout, job.Error)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"nil", nil, models.ErrorCodeUnknown},
		{"validation", models.NewValidationError("bad", nil), models.ErrorCodeValidation},
		{"wrapped job error", fmt.Errorf("outer: %w", models.NewServiceError(errors.New("x"))), models.ErrorCodeServiceError},
		{"quota sentinel", fmt.Errorf("user u1: %w", models.ErrQuotaExceeded), models.ErrorCodeQuotaExceeded},
		{"deadline", context.DeadlineExceeded, models.ErrorCodeTimeout},
		{"panic", fmt.Errorf("%w: nil map", ErrHandlerPanic), models.ErrorCodeHandlerPanic},
		{"plain", errors.New("socket closed"), models.ErrorCodeServiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := ClassifyError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, message)
		})
	}
}

func TestBaseHandler_PublishedSequenceMatchesWrites(t *testing.T) {
	base, ec := newTestBase(t, models.JobTypeProcessFlyer)
	ctx := context.Background()

	id, err := ec.Store.CreateJob(ctx, models.JobTypeProcessFlyer, nil)
	require.NoError(t, err)

	sub, err := ec.Store.Subscribe(ctx, id)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, base.StartJob(ctx, ec, id, "Preparing flyer"))
	require.NoError(t, base.UpdateJobProgress(ctx, ec, id, models.JobUpdate{
		Progress:     models.Float64Ptr(30),
		ProgressStep: models.StringPtr("Analyzing flyer"),
	}))
	require.NoError(t, base.UpdateJobProgress(ctx, ec, id, models.JobUpdate{
		Progress:     models.Float64Ptr(70),
		ProgressStep: models.StringPtr("Saving event"),
	}))
	require.NoError(t, base.CompleteJob(ctx, ec, id, map[string]interface{}{"eventId": "evt_9"}, "evt_9"))

	var got []*models.JobRecord
	for len(got) < 4 {
		select {
		case rec := <-sub.C():
			got = append(got, rec)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 4 updates", len(got))
		}
	}

	assert.Equal(t, models.JobStatusProcessing, got[0].Status)
	assert.Equal(t, float64(5), got[0].Progress)
	assert.Equal(t, 6, got[0].ProgressDetails.TotalSteps)

	assert.Equal(t, float64(30), got[1].Progress)
	assert.Equal(t, "Analyzing flyer", got[1].ProgressStep)
	assert.Equal(t, float64(70), got[2].Progress)
	assert.Equal(t, "Saving event", got[2].ProgressStep)

	assert.Equal(t, models.JobStatusCompleted, got[3].Status)
	assert.Equal(t, float64(100), got[3].Progress)
	assert.Equal(t, "evt_9", got[3].EventID)

	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Revision+1, got[i].Revision)
	}

	select {
	case rec := <-sub.C():
		t.Fatalf("unexpected extra update: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}
