package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/eventjobs/internal/models"
)

// EventRepository - persistence for events created by job handlers
type EventRepository interface {
	SaveEvent(ctx context.Context, event *models.Event) error
	SaveEvents(ctx context.Context, events []*models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, limit int) ([]*models.Event, error)
	CountEvents(ctx context.Context) (int, error)

	// DeleteOutdated removes at most limit events whose last date is before the cutoff.
	// hasMore reports whether further outdated events remain.
	DeleteOutdated(ctx context.Context, before time.Time, limit int) (deleted int, hasMore bool, err error)
}

// StorageManager - bundles the stores used by the application
type StorageManager interface {
	JobStore() JobStore
	EventRepository() EventRepository
	Close() error
}
