package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
)

// SchedulerHandler exposes the cron jobs registered in this process
type SchedulerHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

func NewSchedulerHandler(scheduler interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler, logger: logger}
}

// ListScheduledJobsHandler returns every scheduled job with its last and next run
// GET /api/scheduler/jobs
func (h *SchedulerHandler) ListScheduledJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.GetAllJobStatuses(),
	})
}

// TriggerScheduledJobHandler runs a scheduled job immediately
// POST /api/scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerScheduledJobHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := h.scheduledJob(w, r, "/trigger")
	if !ok {
		return
	}
	if err := h.scheduler.TriggerJob(name); err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to trigger scheduled job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().Str("job_name", name).Msg("Scheduled job triggered")
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"name":   name,
	})
}

// EnableScheduledJobHandler puts a disabled job back on its schedule
// POST /api/scheduler/jobs/{name}/enable
func (h *SchedulerHandler) EnableScheduledJobHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := h.scheduledJob(w, r, "/enable")
	if !ok {
		return
	}
	if err := h.scheduler.EnableJob(name); err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to enable scheduled job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJobStatus(w, name)
}

// DisableScheduledJobHandler takes a job off its schedule. It can still be triggered.
// POST /api/scheduler/jobs/{name}/disable
func (h *SchedulerHandler) DisableScheduledJobHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := h.scheduledJob(w, r, "/disable")
	if !ok {
		return
	}
	if err := h.scheduler.DisableJob(name); err != nil {
		h.logger.Error().Err(err).Str("job_name", name).Msg("Failed to disable scheduled job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJobStatus(w, name)
}

// scheduledJob checks the method and resolves {name} from /api/scheduler/jobs/{name}{suffix}.
// It writes the error response itself when ok is false.
func (h *SchedulerHandler) scheduledJob(w http.ResponseWriter, r *http.Request, suffix string) (string, bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return "", false
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/"), suffix)
	if name == "" || strings.Contains(name, "/") {
		WriteError(w, http.StatusBadRequest, "Job name is required")
		return "", false
	}

	if _, err := h.scheduler.GetJobStatus(name); err != nil {
		WriteError(w, http.StatusNotFound, "Scheduled job not found")
		return "", false
	}
	return name, true
}

func (h *SchedulerHandler) writeJobStatus(w http.ResponseWriter, name string) {
	status, err := h.scheduler.GetJobStatus(name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
