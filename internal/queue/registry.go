package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// Registry maps job types to handlers. It is filled once at startup and sealed
// before the worker pool starts; lookups after Seal never change.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]JobHandler
	sealed   bool
	ec       *ExecutionContext
	logger   arbor.ILogger
}

// NewRegistry creates an empty registry sharing store and table with every handler
func NewRegistry(store interfaces.JobStore, table *models.JobTypeTable, logger arbor.ILogger) *Registry {
	return &Registry{
		handlers: make(map[models.JobType]JobHandler),
		ec: &ExecutionContext{
			Store:  store,
			Table:  table,
			Logger: logger,
		},
		logger: logger,
	}
}

// Register indexes handler by its job type. Duplicates are rejected.
func (r *Registry) Register(handler JobHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	jobType := handler.JobType()
	if jobType == "" {
		return fmt.Errorf("handler job type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, jobType)
	}

	r.handlers[jobType] = handler

	r.logger.Debug().
		Str("job_type", string(jobType)).
		Msg("Job handler registered")

	return nil
}

// RegisterAll registers every handler or returns the first error
func (r *Registry) RegisterAll(handlers ...JobHandler) error {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Seal freezes the registry
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Handler returns the handler for jobType; false means unknown job type
func (r *Registry) Handler(jobType models.JobType) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Context returns the shared execution context
func (r *Registry) Context() *ExecutionContext {
	return r.ec
}

// Types lists registered job types in lexical order
func (r *Registry) Types() []models.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
