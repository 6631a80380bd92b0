package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
	"github.com/ternarybob/eventjobs/internal/storage/badger"
	"github.com/ternarybob/eventjobs/internal/storage/redis"
)

// NewStorageManager creates the storage manager selected by [storage] type.
// broker is used by the badger backend only; redis fans out over its own pub/sub.
func NewStorageManager(logger arbor.ILogger, config *common.Config, broker interfaces.JobUpdateBroker, table *models.JobTypeTable) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "", "badger":
		manager, err := badger.NewManager(logger, config, broker, table)
		if err != nil {
			return nil, err
		}
		return manager, nil
	case "redis":
		manager, err := redis.NewManager(logger, config, table)
		if err != nil {
			return nil, err
		}
		return manager, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected badger or redis)", config.Storage.Type)
	}
}
