package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

// RevisionID is a UUID-based identifier for one Visit revision
type RevisionID string

// NewRevisionID generates a new UUID v4 RevisionID
func NewRevisionID() RevisionID {
	return RevisionID(uuid.New().String())
}

// String returns the string representation of the revision ID
func (r RevisionID) String() string {
	return string(r)
}

// Visit is the processing unit for one Fingerprint's lifecycle. At most one
// non-terminal Visit exists per Fingerprint at any time; the repository's
// RecordEvent enforces this.
type Visit struct {
	Fingerprint Fingerprint
	Revision    RevisionID
	URL         string // normalized
	Occurrences []time.Time
	Status      types.VisitStatus
	FailedStage types.Stage // set when Status is FAILED
	FailReason  string      // set when Status is FAILED
	Attempts    map[types.Stage]int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time // set when Status reached DONE
}

// IsTerminal reports whether the visit can no longer transition.
func (v *Visit) IsTerminal() bool {
	return v.Status.IsTerminal()
}

// LastOccurrence returns the most recent occurrence timestamp, or zero when
// no occurrence has been recorded.
func (v *Visit) LastOccurrence() time.Time {
	if len(v.Occurrences) == 0 {
		return time.Time{}
	}
	return v.Occurrences[len(v.Occurrences)-1]
}

// EvidenceID returns the evidence key used to deduplicate graph edge
// reinforcement for this revision.
func (v *Visit) EvidenceID() string {
	return string(v.Revision)
}

// Attempt returns the recorded attempt count for a stage.
func (v *Visit) Attempt(stage types.Stage) int {
	if v.Attempts == nil {
		return 0
	}
	return v.Attempts[stage]
}

// RecordDecision is the outcome of the event store's dedup decision for one
// appended event.
type RecordDecision struct {
	Visit *Visit
	// Spawned means a new revision was created and a processing job must
	// be dispatched.
	Spawned bool
	// Coalesced means the occurrence was merged into an existing Visit.
	Coalesced bool
}

// RecordPolicy carries the dedup policy constants into RecordEvent.
type RecordPolicy struct {
	// CooldownWindow collapses repeat events for a completed Visit whose
	// last occurrence is this recent.
	CooldownWindow time.Duration
	// ReprocessInterval is the minimum age of a completed Visit before a
	// new event spawns a fresh revision.
	ReprocessInterval time.Duration
}
