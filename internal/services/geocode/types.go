package geocode

// GeocodeResponse represents the Google Geocoding API response
type GeocodeResponse struct {
	Results      []GeocodeResult `json:"results"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// GeocodeResult represents a single match from the Google Geocoding API
type GeocodeResult struct {
	FormattedAddress string    `json:"formatted_address"`
	Geometry         *Geometry `json:"geometry,omitempty"`
	PlaceID          string    `json:"place_id"`
	PartialMatch     bool      `json:"partial_match,omitempty"`
	Types            []string  `json:"types,omitempty"`
}

// Geometry represents the geometry information of a result
type Geometry struct {
	Location     *LatLng `json:"location,omitempty"`
	LocationType string  `json:"location_type,omitempty"`
	Viewport     *Bounds `json:"viewport,omitempty"`
}

// LatLng represents a geographic coordinate
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds represents a geographic bounding box
type Bounds struct {
	Northeast *LatLng `json:"northeast,omitempty"`
	Southwest *LatLng `json:"southwest,omitempty"`
}

// API status values
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)
