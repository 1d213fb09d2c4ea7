package interfaces

import (
	"context"

	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

// VisitRepository is the event store and dedup layer. It is the single
// authoritative decision point for "is this event a duplicate": RecordEvent
// appends the event and resolves it against the at-most-one-non-terminal-
// Visit-per-Fingerprint invariant atomically.
type VisitRepository interface {
	// RecordEvent appends the event to the log and either merges its
	// occurrence into the current Visit or spawns a new revision, per the
	// given policy. The decision and write are one atomic step.
	RecordEvent(ctx context.Context, event *model.VisitEvent, policy model.RecordPolicy) (*model.RecordDecision, error)

	// GetLatest retrieves the current Visit revision for a fingerprint
	GetLatest(ctx context.Context, fp model.Fingerprint) (*model.Visit, error)

	// GetRevision retrieves one Visit revision by ID
	GetRevision(ctx context.Context, rev model.RevisionID) (*model.Visit, error)

	// Transition performs a conditional status update: it succeeds only
	// when the stored status equals from and the transition is legal.
	Transition(ctx context.Context, rev model.RevisionID, from, to types.VisitStatus) (*model.Visit, error)

	// MarkFailed moves a revision to the terminal FAILED status with the
	// stage and reason recorded.
	MarkFailed(ctx context.Context, rev model.RevisionID, stage types.Stage, reason string) (*model.Visit, error)

	// IncrementAttempt records one processing attempt for a stage and
	// returns the new count.
	IncrementAttempt(ctx context.Context, rev model.RevisionID, stage types.Stage) (int, error)

	// ListNonTerminal returns all visits that still need processing.
	ListNonTerminal(ctx context.Context) ([]*model.Visit, error)

	// ListRecentDone returns the most recently completed visits, newest
	// first, up to limit.
	ListRecentDone(ctx context.Context, limit int) ([]*model.Visit, error)

	// ListEvents returns the append-only event log for a fingerprint,
	// oldest first.
	ListEvents(ctx context.Context, fp model.Fingerprint) ([]*model.VisitEvent, error)

	// CountByStatus returns visit counts grouped by status.
	CountByStatus(ctx context.Context) (map[types.VisitStatus]int, error)
}
