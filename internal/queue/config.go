package queue

import (
	"time"

	"github.com/ternarybob/eventjobs/internal/common"
)

// Config holds configuration for the worker pool
type Config struct {
	// PollInterval is how often the pool checks the pending queue
	PollInterval time.Duration

	// Concurrency is the maximum number of jobs executing at once
	Concurrency int

	// JobTimeout is the hard per-job timeout after which the job is force-failed
	JobTimeout time.Duration

	// CancelOnTimeout cancels the handler context when JobTimeout fires.
	// Off by default: the timeout marks the job failed but the handler keeps running.
	CancelOnTimeout bool

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs
	ShutdownTimeout time.Duration
}

// NewDefaultConfig creates a worker pool configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:    1 * time.Second,
		Concurrency:     3,
		JobTimeout:      5 * time.Minute,
		CancelOnTimeout: false,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewConfig builds a Config from the [queue] section, falling back to defaults
func NewConfig(qc common.QueueConfig) Config {
	config := NewDefaultConfig()
	config.PollInterval = common.ParseDuration(qc.PollInterval, config.PollInterval)
	config.JobTimeout = common.ParseDuration(qc.JobTimeout, config.JobTimeout)
	config.CancelOnTimeout = qc.CancelOnTimeout
	if qc.Concurrency > 0 {
		config.Concurrency = qc.Concurrency
	}
	return config
}
