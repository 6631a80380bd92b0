package interfaces

import (
	"context"

	"github.com/ternarybob/eventjobs/internal/models"
)

// Geocoder resolves a free-text address to coordinates
type Geocoder interface {
	// Geocode returns nil, nil when the address has no match
	Geocode(ctx context.Context, address string) (*models.GeoPoint, error)
}

// QuotaChecker enforces per-user resource limits before expensive work
type QuotaChecker interface {
	// Allow consumes one unit for userID or returns models.ErrQuotaExceeded
	Allow(ctx context.Context, userID string) error
}

// CivicSourceFetcher retrieves and converts a civic-engagement source page
type CivicSourceFetcher interface {
	Fetch(ctx context.Context, url string) (*models.CivicPage, error)
}
