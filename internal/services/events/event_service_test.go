package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/models"
)

func newTestService(buffer int, timeout time.Duration) *Service {
	return NewService(arbor.NewLogger(), buffer, timeout)
}

func TestService_PublishDeliversInOrder(t *testing.T) {
	svc := newTestService(16, time.Second)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		rec := models.NewJobRecord("job-1", models.JobTypeProcessFlyer, nil)
		rec.Progress = float64(i * 10)
		require.NoError(t, svc.Publish(ctx, rec))
	}

	for i := 1; i <= 5; i++ {
		select {
		case rec := <-sub.C():
			assert.Equal(t, float64(i*10), rec.Progress)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}

func TestService_PublishIsolatesJobs(t *testing.T) {
	svc := newTestService(4, time.Second)
	ctx := context.Background()

	subA, err := svc.Subscribe(ctx, "job-a")
	require.NoError(t, err)
	defer subA.Close()

	require.NoError(t, svc.Publish(ctx, models.NewJobRecord("job-b", models.JobTypeProcessFlyer, nil)))

	select {
	case rec := <-subA.C():
		t.Fatalf("unexpected update for %s", rec.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_CloseRemovesSubscriber(t *testing.T) {
	svc := newTestService(4, time.Second)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.SubscriberCount("job-1"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, svc.SubscriberCount("job-1"))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")

	// publishing after close must not panic
	require.NoError(t, svc.Publish(ctx, models.NewJobRecord("job-1", models.JobTypeProcessFlyer, nil)))
}

func TestService_SlowSubscriberIsClosed(t *testing.T) {
	svc := newTestService(1, 20*time.Millisecond)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, svc.Publish(ctx, models.NewJobRecord("job-1", models.JobTypeProcessFlyer, nil)))
	require.NoError(t, svc.Publish(ctx, models.NewJobRecord("job-1", models.JobTypeProcessFlyer, nil)))

	assert.Equal(t, 0, svc.SubscriberCount("job-1"))

	_, ok := <-sub.C()
	assert.True(t, ok, "buffered update is still readable")
	_, ok = <-sub.C()
	assert.False(t, ok)
}

func TestService_PublishSendsCopies(t *testing.T) {
	svc := newTestService(4, time.Second)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	rec := models.NewJobRecord("job-1", models.JobTypeProcessFlyer, map[string]interface{}{"k": "v"})
	require.NoError(t, svc.Publish(ctx, rec))
	rec.Message = "mutated"

	got := <-sub.C()
	assert.Empty(t, got.Message)
}
