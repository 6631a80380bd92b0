package server

import (
	"net/http"
	"strings"
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// Scheduler (only in processes that run the worker side)
	if s.app.SchedulerHandler != nil {
		mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.ListScheduledJobsHandler)
		mux.HandleFunc("/api/scheduler/jobs/", s.handleSchedulerRoutes)
	}

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute handles GET (list) and POST (enqueue) on /api/jobs
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.JobHandler.ListJobsHandler,
		s.app.JobHandler.CreateJobHandler,
	)
}

// handleJobRoutes routes /api/jobs/{id}, /api/jobs/{id}/stream and /api/jobs/{id}/ws
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/api/jobs/", []PathSuffixRouter{
		{Suffix: "/stream", Handler: s.app.JobHandler.StreamJobHandler},
		{Suffix: "/ws", Handler: s.app.JobHandler.StreamJobWebSocketHandler},
	}) {
		return
	}

	// Anything deeper than /api/jobs/{id} is unknown
	if strings.Contains(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: s.app.JobHandler.GetJobHandler,
	})
}

// handleSchedulerRoutes routes /api/scheduler/jobs/{name}/trigger|enable|disable
func (s *Server) handleSchedulerRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/api/scheduler/jobs/", []PathSuffixRouter{
		{Suffix: "/trigger", Handler: s.app.SchedulerHandler.TriggerScheduledJobHandler},
		{Suffix: "/enable", Handler: s.app.SchedulerHandler.EnableScheduledJobHandler},
		{Suffix: "/disable", Handler: s.app.SchedulerHandler.DisableScheduledJobHandler},
	}) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}
