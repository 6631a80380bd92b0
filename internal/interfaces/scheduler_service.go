package interfaces

import (
	"context"
	"time"
)

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	IsRunning   bool       `json:"isRunning"`
	LastError   string     `json:"lastError,omitempty"`
}

// SchedulerService manages cron-based scheduling
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool

	// RegisterJob registers a new job with the scheduler
	RegisterJob(name string, schedule string, description string, handler func(ctx context.Context) error) error

	EnableJob(name string) error
	DisableJob(name string) error

	// TriggerJob runs a registered job now, outside its schedule
	TriggerJob(name string) error

	GetJobStatus(name string) (*JobStatus, error)
	GetAllJobStatuses() map[string]*JobStatus
}
