package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewEventID generates a unique event ID with the "evt_" prefix
func NewEventID() string {
	return "evt_" + uuid.New().String()
}
