package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/streaming"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// DefaultMaxUploadSize bounds a multipart job submission
	DefaultMaxUploadSize = 20 << 20
)

// JobHandler serves the job API: enqueue, lookup, list and progress streams
type JobHandler struct {
	store         interfaces.JobStore
	streamer      *streaming.Streamer
	known         map[models.JobType]bool
	writeTimeout  time.Duration
	maxUploadSize int64
	logger        arbor.ILogger
}

// NewJobHandler creates a job handler. Only job types present in table are accepted.
func NewJobHandler(store interfaces.JobStore, table *models.JobTypeTable, streamer *streaming.Streamer, writeTimeout time.Duration, logger arbor.ILogger) *JobHandler {
	known := make(map[models.JobType]bool)
	for _, t := range table.Types() {
		known[t] = true
	}
	return &JobHandler{
		store:         store,
		streamer:      streamer,
		known:         known,
		writeTimeout:  writeTimeout,
		maxUploadSize: DefaultMaxUploadSize,
		logger:        logger,
	}
}

// CreateJobRequest is the JSON body of POST /api/jobs
type CreateJobRequest struct {
	Type models.JobType         `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// CreateJobResponse is returned with 202 Accepted
type CreateJobResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

// CreateJobHandler enqueues a job from JSON or multipart input
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req     CreateJobRequest
		payload []byte
		err     error
	)
	switch mediaType {
	case "multipart/form-data":
		req, payload, err = h.readMultipart(w, r)
	case "application/json", "":
		req, err = h.readJSON(w, r)
	default:
		err = fmt.Errorf("unsupported content type %q", mediaType)
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Type == "" {
		WriteError(w, http.StatusBadRequest, "Job type is required")
		return
	}
	if !h.known[req.Type] {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown job type: %s", req.Type))
		return
	}
	if requiresImage(req.Type) && len(payload) == 0 {
		WriteError(w, http.StatusBadRequest, "An image file is required for this job type")
		return
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}

	var jobID string
	if len(payload) > 0 {
		jobID, err = h.store.CreateJobWithBuffer(r.Context(), req.Type, req.Data, payload)
	} else {
		jobID, err = h.store.CreateJob(r.Context(), req.Type, req.Data)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_type", string(req.Type)).Msg("Failed to enqueue job")
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("job_type", string(req.Type)).
		Int("buffer_bytes", len(payload)).
		Msg("Job enqueued")

	WriteJSON(w, http.StatusAccepted, CreateJobResponse{JobID: jobID, Status: models.JobStatusPending})
}

func (h *JobHandler) readJSON(w http.ResponseWriter, r *http.Request) (CreateJobRequest, error) {
	var req CreateJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("Invalid request body")
	}
	return req, nil
}

// readMultipart accepts fields type and data (a JSON object) plus an optional file part.
// A file without data.mimeType takes the part's Content-Type.
func (h *JobHandler) readMultipart(w http.ResponseWriter, r *http.Request) (CreateJobRequest, []byte, error) {
	var req CreateJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, fmt.Errorf("Upload exceeds %d bytes", h.maxUploadSize)
		}
		return req, nil, fmt.Errorf("Invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	req.Type = models.JobType(strings.TrimSpace(r.FormValue("type")))
	if raw := r.FormValue("data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Data); err != nil {
			return req, nil, fmt.Errorf("Field data must be a JSON object")
		}
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return req, nil, fmt.Errorf("Invalid file upload")
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return req, nil, fmt.Errorf("Failed to read uploaded file")
	}
	if len(payload) == 0 {
		return req, nil, fmt.Errorf("Uploaded file is empty")
	}

	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	if _, ok := req.Data["mimeType"]; !ok {
		if ct := header.Header.Get("Content-Type"); ct != "" {
			req.Data["mimeType"] = ct
		}
	}
	return req, payload, nil
}

func requiresImage(t models.JobType) bool {
	return t == models.JobTypeProcessFlyer || t == models.JobTypeProcessMultiEventFlyer
}

// GetJobHandler returns one job record
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListJobsHandler returns jobs in creation order
// GET /api/jobs?status=pending,processing&type=process_flyer&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	filter := models.JobFilter{
		Type:  models.JobType(r.URL.Query().Get("type")),
		Limit: queryInt(r, "limit", defaultListLimit, maxListLimit),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.JobStatus(strings.TrimSpace(s))
			if !status.IsValid() {
				WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status: %s", status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	jobs, err := h.store.GetJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.JobRecord{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// StreamJobHandler pushes job progress as server-sent events
// GET /api/jobs/{id}/stream
func (h *JobHandler) StreamJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	sink, err := streaming.NewSSESink(w, h.writeTimeout)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	if err := h.streamer.Stream(r.Context(), jobID, sink); err != nil {
		h.logger.Debug().Err(err).Str("job_id", jobID).Msg("SSE job stream ended with error")
	}
}
