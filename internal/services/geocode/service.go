package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

const (
	// DefaultEndpoint is the Google Geocoding API
	DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

	defaultRequestTimeout = 10 * time.Second
)

// Service implements interfaces.Geocoder against the Google Geocoding API
type Service struct {
	config     *common.GeocodingConfig
	logger     arbor.ILogger
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ interfaces.Geocoder = (*Service)(nil)

// NewService creates a geocoder. An empty API key returns models.ErrServiceUnavailable;
// callers treat geocoding as optional enrichment.
func NewService(config *common.GeocodingConfig, logger arbor.ILogger) (*Service, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("geocoding api key is not configured: %w", models.ErrServiceUnavailable)
	}

	perSecond := config.RatePerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	return &Service{
		config:   config,
		logger:   logger,
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, defaultRequestTimeout),
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

// WithEndpoint points the service at another base URL (tests, proxies)
func (s *Service) WithEndpoint(endpoint string) *Service {
	s.endpoint = endpoint
	return s
}

// Geocode returns the best match for address, or nil, nil when nothing matches
func (s *Service) Geocode(ctx context.Context, address string) (*models.GeoPoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", s.config.APIKey)
	if s.config.Region != "" {
		params.Set("region", s.config.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	// Redact API key in logs
	s.logger.Debug().
		Str("url", fmt.Sprintf("%s?address=%s&key=***REDACTED***", s.endpoint, url.QueryEscape(address))).
		Msg("Calling Google Geocoding API")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Google Geocoding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("Google Geocoding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp GeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}

	switch apiResp.Status {
	case StatusOK:
	case StatusZeroResults:
		s.logger.Debug().Str("address", address).Msg("Geocode returned no results")
		return nil, nil
	default:
		return nil, fmt.Errorf("API error: %s - %s", apiResp.Status, apiResp.ErrorMessage)
	}

	for _, result := range apiResp.Results {
		if result.Geometry == nil || result.Geometry.Location == nil {
			continue
		}
		point := &models.GeoPoint{
			Lat:              result.Geometry.Location.Lat,
			Lng:              result.Geometry.Location.Lng,
			FormattedAddress: result.FormattedAddress,
		}
		s.logger.Debug().
			Str("address", address).
			Str("formatted_address", point.FormattedAddress).
			Bool("partial_match", result.PartialMatch).
			Msg("Geocode resolved")
		return point, nil
	}

	return nil, nil
}
