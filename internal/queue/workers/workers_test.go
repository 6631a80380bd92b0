package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/queue"
	"github.com/ternarybob/eventjobs/internal/services/events"
	"github.com/ternarybob/eventjobs/internal/storage/badger"
)

type testEnv struct {
	store  interfaces.JobStore
	events interfaces.EventRepository
	ec     *queue.ExecutionContext
	table  *models.JobTypeTable
	logger arbor.ILogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()
	table := models.DefaultJobTypeTable()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	broker := events.NewService(logger, 64, time.Second)
	t.Cleanup(func() { _ = broker.Close() })

	store, err := badger.NewJobStorage(db, "test", broker, table, logger)
	require.NoError(t, err)

	registry := queue.NewRegistry(store, table, logger)
	return &testEnv{
		store:  store,
		events: badger.NewEventStorage(db, logger),
		ec:     registry.Context(),
		table:  table,
		logger: logger,
	}
}

// run creates a job, claims it and invokes handler directly
func (e *testEnv) run(t *testing.T, handler queue.JobHandler, data map[string]interface{}, buffer []byte) *models.JobRecord {
	t.Helper()
	ctx := context.Background()

	var id string
	var err error
	if buffer != nil {
		id, err = e.store.CreateJobWithBuffer(ctx, handler.JobType(), data, buffer)
	} else {
		id, err = e.store.CreateJob(ctx, handler.JobType(), data)
	}
	require.NoError(t, err)

	claimed, err := e.store.PopPending(ctx)
	require.NoError(t, err)
	require.Equal(t, id, claimed)

	job, err := e.store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, id, job, e.ec))

	job, err = e.store.GetJob(ctx, id)
	require.NoError(t, err)
	require.True(t, job.IsTerminal(), "handler left job %s in %s", id, job.Status)
	return job
}

// MockAnalyzer is a mock implementation of interfaces.FlyerAnalyzer for testing
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeFlyer(ctx context.Context, image []byte, mimeType string, multi bool) (*models.FlyerAnalysis, error) {
	args := m.Called(ctx, image, mimeType, multi)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlyerAnalysis), args.Error(1)
}

func (m *MockAnalyzer) Summarize(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) Provider() string {
	return "mock"
}

// MockGeocoder is a mock implementation of interfaces.Geocoder for testing
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, address string) (*models.GeoPoint, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GeoPoint), args.Error(1)
}

type stubEmbeddings struct {
	err error
}

func (s *stubEmbeddings) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *stubEmbeddings) ModelName() string                    { return "stub" }
func (s *stubEmbeddings) Dimension() int                       { return 3 }
func (s *stubEmbeddings) IsAvailable(ctx context.Context) bool { return s.err == nil }

type stubQuota struct {
	err error
}

func (s *stubQuota) Allow(ctx context.Context, userID string) error { return s.err }

type stubFetcher struct {
	page *models.CivicPage
	err  error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*models.CivicPage, error) {
	return s.page, s.err
}

// stubEvents wraps a real repository and overrides DeleteOutdated
type stubEvents struct {
	interfaces.EventRepository
	deleted int
	hasMore bool
	err     error
	cutoffs []time.Time
	limits  []int
	saveErr error
}

func (s *stubEvents) DeleteOutdated(ctx context.Context, before time.Time, limit int) (int, bool, error) {
	s.cutoffs = append(s.cutoffs, before)
	s.limits = append(s.limits, limit)
	return s.deleted, s.hasMore, s.err
}

func (s *stubEvents) SaveEvent(ctx context.Context, event *models.Event) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.EventRepository.SaveEvent(ctx, event)
}

var errUpstream = errors.New("upstream unavailable")

func TestValidationMessage(t *testing.T) {
	var p privateEventPayload
	err := decodePayload(map[string]interface{}{"userId": "u1", "startDate": "2026-07-01"}, &p)
	require.Error(t, err)

	var jobErr *models.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, models.ErrorCodeValidation, jobErr.Code)
	assert.Equal(t, "Title is required.", jobErr.Message)

	err = decodePayload(map[string]interface{}{"userId": "u1", "title": "x", "startDate": "07/01/2026"}, &p)
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "StartDate must match 2006-01-02.", jobErr.Message)
}

func TestParseSchedule(t *testing.T) {
	start, end, err := parseSchedule("2026-07-01", "18:30", "", "21:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 18, 30, 0, 0, time.UTC), start)
	require.NotNil(t, end)
	assert.Equal(t, time.Date(2026, 7, 1, 21, 0, 0, 0, time.UTC), *end)

	start, end, err = parseSchedule("2026-07-01", "", "", "", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Nil(t, end)

	_, _, err = parseSchedule("2026-07-02", "", "2026-07-01", "", time.UTC)
	assert.Error(t, err)

	_, _, err = parseSchedule("tomorrow", "", "", "", time.UTC)
	assert.Error(t, err)
}
