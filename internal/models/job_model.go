// -----------------------------------------------------------------------
// Job Record - tracked state of one asynchronous job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward step.
// Same-status writes are allowed for non-terminal states (progress updates).
// pending -> failed covers jobs failed before any handler ran.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusPending || next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// ProgressDetails tracks coarse phases independently of the continuous progress value.
type ProgressDetails struct {
	CurrentStep     string  `json:"currentStep"`
	TotalSteps      int     `json:"totalSteps"`
	StepProgress    float64 `json:"stepProgress"`
	StepDescription string  `json:"stepDescription"`
}

// JobRecord is the unit of work tracking state. Every field write goes through
// JobUpdate merges; Data is fixed at creation.
type JobRecord struct {
	ID              string                 `json:"id"`
	Type            JobType                `json:"type"`
	Status          JobStatus              `json:"status"`
	Created         time.Time              `json:"created"`
	Started         *time.Time             `json:"started,omitempty"`
	Completed       *time.Time             `json:"completed,omitempty"`
	Progress        float64                `json:"progress"`
	ProgressStep    string                 `json:"progressStep,omitempty"`
	Message         string                 `json:"message,omitempty"`
	ProgressDetails *ProgressDetails       `json:"progressDetails,omitempty"`
	Data            map[string]interface{} `json:"data"`
	Result          map[string]interface{} `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	EventID         string                 `json:"eventId,omitempty"`

	// Revision increases by one on every applied update. Subscribers use it
	// to drop notifications older than a snapshot they already hold.
	Revision int64 `json:"revision"`
}

// NewJobRecord creates a pending record. The caller assigns the ID.
func NewJobRecord(id string, jobType JobType, data map[string]interface{}) *JobRecord {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &JobRecord{
		ID:       id,
		Type:     jobType,
		Status:   JobStatusPending,
		Created:  time.Now().UTC(),
		Progress: 0,
		Data:     data,
		Revision: 1,
	}
}

// MarshalJSON always writes result on completed records, even when it is empty.
func (j JobRecord) MarshalJSON() ([]byte, error) {
	type record JobRecord
	out := struct {
		record
		Result *map[string]interface{} `json:"result,omitempty"`
	}{record: record(j)}

	if j.Result != nil || j.Status == JobStatusCompleted {
		result := j.Result
		if result == nil {
			result = make(map[string]interface{})
		}
		out.Result = &result
	}
	return json.Marshal(out)
}

// IsTerminal reports whether the record reached completed or failed.
func (j *JobRecord) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// JobUpdate is a partial write. Nil fields leave the stored value untouched.
type JobUpdate struct {
	Status          *JobStatus             `json:"status,omitempty"`
	Progress        *float64               `json:"progress,omitempty"`
	ProgressStep    *string                `json:"progressStep,omitempty"`
	Message         *string                `json:"message,omitempty"`
	ProgressDetails *ProgressDetails       `json:"progressDetails,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	Error           *string                `json:"error,omitempty"`
	EventID         *string                `json:"eventId,omitempty"`
}

// Apply merges u onto j in place. The record is left unchanged when an error is returned.
func (j *JobRecord) Apply(u JobUpdate, now time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrJobTerminal, j.ID, j.Status)
	}

	next := j.Status
	if u.Status != nil {
		if !u.Status.IsValid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *u.Status)
		}
		if !j.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, *u.Status)
		}
		next = *u.Status
	}

	// result only on completed, error only on failed
	if u.Result != nil && next != JobStatusCompleted {
		return fmt.Errorf("%w: result requires status %s", ErrInvalidTransition, JobStatusCompleted)
	}
	if u.Error != nil && next != JobStatusFailed {
		return fmt.Errorf("%w: error requires status %s", ErrInvalidTransition, JobStatusFailed)
	}

	j.Status = next
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.ProgressStep != nil {
		j.ProgressStep = *u.ProgressStep
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.ProgressDetails != nil {
		details := *u.ProgressDetails
		j.ProgressDetails = &details
	}
	if u.EventID != nil {
		j.EventID = *u.EventID
	}

	switch next {
	case JobStatusProcessing:
		if j.Started == nil {
			started := now
			j.Started = &started
		}
	case JobStatusCompleted:
		j.Result = u.Result
		if j.Result == nil {
			j.Result = make(map[string]interface{})
		}
		j.Error = ""
	case JobStatusFailed:
		if u.Error != nil {
			j.Error = *u.Error
		}
		if j.Error == "" {
			j.Error = ErrorCodeUnknown
		}
		j.Result = nil
	}

	if next.IsTerminal() && j.Completed == nil {
		completed := now
		j.Completed = &completed
	}

	j.Revision++

	return nil
}

// Clone returns a deep enough copy for publishing: maps are copied one level.
func (j *JobRecord) Clone() *JobRecord {
	c := *j
	if j.Started != nil {
		t := *j.Started
		c.Started = &t
	}
	if j.Completed != nil {
		t := *j.Completed
		c.Completed = &t
	}
	if j.ProgressDetails != nil {
		d := *j.ProgressDetails
		c.ProgressDetails = &d
	}
	c.Data = copyMap(j.Data)
	c.Result = copyMap(j.Result)
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JobFilter narrows GetJobs results. Zero values mean "no constraint".
type JobFilter struct {
	Statuses      []JobStatus
	Type          JobType
	CreatedBefore time.Time
	Limit         int
}

// Matches reports whether job passes the filter (Limit is applied by the caller).
func (f JobFilter) Matches(job *JobRecord) bool {
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if !f.CreatedBefore.IsZero() && !job.Created.Before(f.CreatedBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if job.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// SortJobsChronologically orders jobs by Created ascending, ties broken by ID.
func SortJobsChronologically(jobs []*JobRecord) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].Created.Equal(jobs[b].Created) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].Created.Before(jobs[b].Created)
	})
}

// ApplyFilter filters, sorts and truncates jobs in one pass.
func ApplyFilter(jobs []*JobRecord, f JobFilter) []*JobRecord {
	out := make([]*JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if f.Matches(job) {
			out = append(out, job)
		}
	}
	SortJobsChronologically(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// StatusPtr and friends build JobUpdate fields inline.
func StatusPtr(s JobStatus) *JobStatus { return &s }

func Float64Ptr(f float64) *float64 { return &f }

func StringPtr(s string) *string { return &s }
