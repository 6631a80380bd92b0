package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Start() error    { return m.Called().Error(0) }
func (m *mockScheduler) Stop() error     { return m.Called().Error(0) }
func (m *mockScheduler) IsRunning() bool { return m.Called().Bool(0) }

func (m *mockScheduler) RegisterJob(name string, schedule string, description string, handler func(ctx context.Context) error) error {
	return m.Called(name, schedule, description).Error(0)
}

func (m *mockScheduler) EnableJob(name string) error  { return m.Called(name).Error(0) }
func (m *mockScheduler) DisableJob(name string) error { return m.Called(name).Error(0) }
func (m *mockScheduler) TriggerJob(name string) error { return m.Called(name).Error(0) }

func (m *mockScheduler) GetJobStatus(name string) (*interfaces.JobStatus, error) {
	args := m.Called(name)
	status, _ := args.Get(0).(*interfaces.JobStatus)
	return status, args.Error(1)
}

func (m *mockScheduler) GetAllJobStatuses() map[string]*interfaces.JobStatus {
	return m.Called().Get(0).(map[string]*interfaces.JobStatus)
}

func TestSchedulerHandler_List(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("IsRunning").Return(true)
	sched.On("GetAllJobStatuses").Return(map[string]*interfaces.JobStatus{
		"cleanup_outdated_events": {Name: "cleanup_outdated_events", Enabled: true, Schedule: "0 0 3 * * *"},
	})

	h := NewSchedulerHandler(sched, arbor.NewLogger())
	rec := httptest.NewRecorder()
	h.ListScheduledJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/scheduler/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"schedule":"0 0 3 * * *"`)
	sched.AssertExpectations(t)
}

func TestSchedulerHandler_Trigger(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("GetJobStatus", "cleanup_outdated_events").Return(&interfaces.JobStatus{Name: "cleanup_outdated_events"}, nil)
	sched.On("TriggerJob", "cleanup_outdated_events").Return(nil)
	sched.On("GetJobStatus", "missing").Return(nil, errors.New("job not found: missing"))

	h := NewSchedulerHandler(sched, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.TriggerScheduledJobHandler(rec, httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.TriggerScheduledJobHandler(rec, httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs/missing/trigger", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.TriggerScheduledJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/scheduler/jobs/cleanup_outdated_events/trigger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	sched.AssertExpectations(t)
}

func TestSchedulerHandler_EnableDisable(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("GetJobStatus", "cleanup_outdated_events").Return(&interfaces.JobStatus{Name: "cleanup_outdated_events", Enabled: false}, nil).Twice()
	sched.On("DisableJob", "cleanup_outdated_events").Return(nil).Once()
	sched.On("GetJobStatus", "cleanup_outdated_events").Return(&interfaces.JobStatus{Name: "cleanup_outdated_events", Enabled: true}, nil).Twice()
	sched.On("EnableJob", "cleanup_outdated_events").Return(nil).Once()
	sched.On("GetJobStatus", "missing").Return(nil, errors.New("job not found: missing"))

	h := NewSchedulerHandler(sched, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.DisableScheduledJobHandler(rec, httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	rec = httptest.NewRecorder()
	h.EnableScheduledJobHandler(rec, httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/enable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":true`)

	rec = httptest.NewRecorder()
	h.EnableScheduledJobHandler(rec, httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs/missing/enable", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sched.AssertExpectations(t)
}
