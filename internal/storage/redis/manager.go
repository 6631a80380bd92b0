package redis

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// Manager implements the StorageManager interface for Redis
type Manager struct {
	jobs   *Store
	events *EventStore
}

// NewManager dials Redis and builds the job store and event repository on one client
func NewManager(logger arbor.ILogger, config *common.Config, table *models.JobTypeTable) (*Manager, error) {
	jobs, err := NewFromConfig(config, table, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		jobs:   jobs,
		events: NewEventStore(jobs),
	}, nil
}

func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobs
}

func (m *Manager) EventRepository() interfaces.EventRepository {
	return m.events
}

func (m *Manager) Close() error {
	return m.jobs.Close()
}
