package models

import "time"

// EventVisibility controls who can see an event.
type EventVisibility string

const (
	EventVisibilityPublic  EventVisibility = "public"
	EventVisibilityPrivate EventVisibility = "private"
)

// EventSource records which job type produced an event.
type EventSource string

const (
	EventSourceFlyer  EventSource = "flyer"
	EventSourceManual EventSource = "manual"
	EventSourceCivic  EventSource = "civic"
)

// GeoPoint is a resolved coordinate.
type GeoPoint struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
}

// Event is the domain entity created by job handlers.
type Event struct {
	ID          string          `json:"id" badgerhold:"key"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	StartDate   time.Time       `json:"startDate"`
	EndDate     *time.Time      `json:"endDate,omitempty"`
	Venue       string          `json:"venue,omitempty"`
	Address     string          `json:"address,omitempty"`
	Location    *GeoPoint       `json:"location,omitempty"`
	Category    string          `json:"category,omitempty"`
	Visibility  EventVisibility `json:"visibility"`
	Source      EventSource     `json:"source"`
	OwnerID     string          `json:"ownerId,omitempty"`
	SourceURL   string          `json:"sourceUrl,omitempty"`
	Embedding   []float32       `json:"embedding,omitempty"`
	JobID       string          `json:"jobId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// LastDate is the date after which the event is outdated.
func (e *Event) LastDate() time.Time {
	if e.EndDate != nil && !e.EndDate.IsZero() {
		return *e.EndDate
	}
	return e.StartDate
}

// ExtractedEvent is what flyer analysis returns for one event on an image.
type ExtractedEvent struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"startDate"`
	StartTime   string `json:"startTime,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Venue       string `json:"venue,omitempty"`
	Address     string `json:"address,omitempty"`
	Category    string `json:"category,omitempty"`
}

// FlyerAnalysis is the structured output of analyzing a flyer image.
type FlyerAnalysis struct {
	IsEventFlyer bool             `json:"isEventFlyer"`
	Events       []ExtractedEvent `json:"events"`
	Provider     string           `json:"provider,omitempty"`
}

// CivicPage is a fetched civic-engagement source page converted to markdown.
type CivicPage struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	Summary  string `json:"summary,omitempty"`
}
