package interfaces

import (
	"context"

	"github.com/ternarybob/eventjobs/internal/models"
)

// JobUpdateBroker fans job record updates out to per-job subscribers
type JobUpdateBroker interface {
	// Publish delivers record to every current subscriber of record.ID
	Publish(ctx context.Context, record *models.JobRecord) error

	// Subscribe registers a subscriber for one job id
	Subscribe(ctx context.Context, jobID string) (Subscription, error)

	// SubscriberCount returns the live subscriber count for jobID
	SubscriberCount(jobID string) int

	// Close drops every subscriber
	Close() error
}
