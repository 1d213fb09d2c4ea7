package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

// EventID is a UUID-based identifier for VisitEvent
type EventID string

// NewEventID generates a new UUID v4 EventID
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// VisitEvent is one observed page navigation as submitted by the capture
// client. Immutable once stored.
type VisitEvent struct {
	ID          EventID
	Fingerprint Fingerprint
	URL         string // normalized
	RawURL      string // as submitted
	TabRef      string // opaque correlation id, not an identity
	Source      types.EventSource
	ObservedAt  time.Time
	CreatedAt   time.Time
}
