package queue

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = models.ErrNoMessage

var (
	// ErrDuplicateHandler is returned when two handlers claim the same job type
	ErrDuplicateHandler = errors.New("handler already registered for job type")

	// ErrRegistrySealed is returned when registering after startup
	ErrRegistrySealed = errors.New("handler registry is sealed")

	// ErrHandlerPanic wraps a recovered handler panic
	ErrHandlerPanic = errors.New("handler panicked")
)

// JobHandler executes one job type. Handle must end the job with exactly one
// terminal write (CompleteJob or FailJob) and must not panic; BaseHandler.Execute
// provides both guarantees.
type JobHandler interface {
	JobType() models.JobType
	CanHandle(job *models.JobRecord) bool
	Handle(ctx context.Context, jobID string, job *models.JobRecord, ec *ExecutionContext) error
}

// ExecutionContext is handed to every handler invocation
type ExecutionContext struct {
	Store  interfaces.JobStore
	Table  *models.JobTypeTable
	Logger arbor.ILogger
}
