package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	jobs   *JobStorage
	events interfaces.EventRepository
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager. Job updates are published on broker.
func NewManager(logger arbor.ILogger, config *common.Config, broker interfaces.JobUpdateBroker, table *models.JobTypeTable) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobStorage(db, config.Queue.QueueName, broker, table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:     db,
		jobs:   jobs,
		events: NewEventStorage(db, logger),
		logger: logger,
	}

	logger.Info().Str("path", config.Storage.Badger.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobs
}

// EventRepository returns the event repository
func (m *Manager) EventRepository() interfaces.EventRepository {
	return m.events
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
