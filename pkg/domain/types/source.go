package types

import "fmt"

// EventSource represents how a page visit was observed by the client
type EventSource string

const (
	EventSourceFullLoad      EventSource = "full-load"
	EventSourceSPANavigation EventSource = "spa-navigation"
	EventSourceManual        EventSource = "manual"
)

// AllEventSources returns all valid event sources
func AllEventSources() []EventSource {
	return []EventSource{
		EventSourceFullLoad,
		EventSourceSPANavigation,
		EventSourceManual,
	}
}

// IsValid checks if the event source is valid
func (s EventSource) IsValid() bool {
	switch s {
	case EventSourceFullLoad,
		EventSourceSPANavigation,
		EventSourceManual:
		return true
	default:
		return false
	}
}

// Normalize returns the source, treating empty as EventSourceFullLoad.
// Clients that predate the source field never set it and always report
// full page loads.
func (s EventSource) Normalize() EventSource {
	if s == "" {
		return EventSourceFullLoad
	}
	return s
}

// String returns the string representation of the event source
func (s EventSource) String() string {
	return string(s)
}

// ParseEventSource parses a string into an EventSource
func ParseEventSource(s string) (EventSource, error) {
	source := EventSource(s)
	if !source.IsValid() {
		return "", fmt.Errorf("invalid event source: %s", s)
	}
	return source, nil
}
