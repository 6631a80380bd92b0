package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/models"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := NewService(&common.GeocodingConfig{APIKey: "test-key", RatePerSecond: 100, Region: "au"}, arbor.NewLogger())
	require.NoError(t, err)
	return service.WithEndpoint(server.URL)
}

func TestGeocode_ResolvesFirstMatch(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12 Main St", r.URL.Query().Get("address"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "au", r.URL.Query().Get("region"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[
			{"formatted_address":"12 Main St, Springfield","geometry":{"location":{"lat":-33.8,"lng":151.2}}},
			{"formatted_address":"12 Main Rd","geometry":{"location":{"lat":1,"lng":2}}}
		]}`))
	})

	point, err := service.Geocode(context.Background(), "12 Main St")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.Equal(t, -33.8, point.Lat)
	assert.Equal(t, 151.2, point.Lng)
	assert.Equal(t, "12 Main St, Springfield", point.FormattedAddress)
}

func TestGeocode_ZeroResults(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	point, err := service.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestGeocode_APIError(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
	})

	_, err := service.Geocode(context.Background(), "12 Main St")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestGeocode_HTTPError(t *testing.T) {
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	_, err := service.Geocode(context.Background(), "12 Main St")
	assert.Error(t, err)
}

func TestGeocode_EmptyAddressSkipsCall(t *testing.T) {
	called := false
	service := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	point, err := service.Geocode(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, point)
	assert.False(t, called)
}

func TestNewService_RequiresKey(t *testing.T) {
	_, err := NewService(&common.GeocodingConfig{}, arbor.NewLogger())
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
}
