package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/app"
	"github.com/ternarybob/eventjobs/internal/common"
)

func newTestServer(t *testing.T, mode string) *Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Server.Mode = mode
	cfg.Storage.Badger.InMemory = true
	cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}

	a, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return New(a)
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, common.ModeAll)
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/jobs", "", http.StatusOK},
		{http.MethodPost, "/api/jobs", `{"type":"process_private_event","data":{}}`, http.StatusAccepted},
		{http.MethodDelete, "/api/jobs", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/jobs/job_missing", "", http.StatusNotFound},
		{http.MethodPut, "/api/jobs/job_missing", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/jobs/job_missing/unknown", "", http.StatusNotFound},
		{http.MethodGet, "/api/scheduler/jobs", "", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/disable", "", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/enable", "", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/missing/enable", "", http.StatusNotFound},
		{http.MethodPost, "/api/scheduler/jobs/cleanup_outdated_events/pause", "", http.StatusNotFound},
		{http.MethodGet, "/nowhere", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRoutes_APIModeHasNoScheduler(t *testing.T) {
	s := newTestServer(t, common.ModeAPI)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scheduler/jobs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	s := newTestServer(t, common.ModeAll)

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	s := newTestServer(t, common.ModeAll)
	h := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)
}
