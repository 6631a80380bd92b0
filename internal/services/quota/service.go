// -----------------------------------------------------------------------
// Quota Service - per-user upload limits backed by token buckets
// -----------------------------------------------------------------------

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// idleExpiry drops limiters for users that have been quiet this long
const idleExpiry = 2 * time.Hour

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Service enforces uploads-per-hour per user. Limits are process local.
type Service struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	enabled  bool
	logger   arbor.ILogger
	now      func() time.Time
}

var _ interfaces.QuotaChecker = (*Service)(nil)

// NewService creates a quota service from config. A disabled service allows everything.
func NewService(config *common.QuotaConfig, logger arbor.ILogger) *Service {
	perHour := config.UploadsPerHour
	if perHour <= 0 {
		perHour = 20
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	logger.Debug().
		Bool("enabled", config.Enabled).
		Int("burst", burst).
		Str("interval", (time.Duration(float64(time.Hour) / perHour)).String()).
		Msg("Quota service initialized")

	return &Service{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Every(time.Duration(float64(time.Hour) / perHour)),
		burst:    burst,
		enabled:  config.Enabled,
		logger:   logger,
		now:      time.Now,
	}
}

// Allow consumes one upload for userID. Anonymous uploads share one bucket.
func (s *Service) Allow(ctx context.Context, userID string) error {
	if !s.enabled {
		return nil
	}
	if userID == "" {
		userID = "anonymous"
	}

	s.mu.Lock()
	now := s.now()
	s.sweep(now)

	entry, ok := s.limiters[userID]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[userID] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	s.mu.Unlock()

	if !allowed {
		s.logger.Info().Str("user_id", userID).Msg("Upload quota exceeded")
		return fmt.Errorf("user %s: %w", userID, models.ErrQuotaExceeded)
	}
	return nil
}

// sweep removes idle limiters; caller holds mu
func (s *Service) sweep(now time.Time) {
	for id, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > idleExpiry {
			delete(s.limiters, id)
		}
	}
}
