package ledger

import "time"

// EventType classifies a navigation event.
type EventType string

const (
	EventNavigation EventType = "navigation"
	EventBackButton EventType = "back_button"
	EventError      EventType = "error"
	EventFallback   EventType = "fallback"
)

// Event records a single navigation outcome. Events are immutable once
// appended.
type Event struct {
	Type          EventType      `json:"type"`
	Route         string         `json:"route"`
	Timestamp     time.Time      `json:"ts"`
	DurationMs    *float64       `json:"duration_ms,omitempty"` // nil when no timing was correlated
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// DurationOf is a convenience for building events with a duration value.
func DurationOf(d time.Duration) *float64 {
	ms := float64(d) / float64(time.Millisecond)
	return &ms
}
