package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

type visitRepository struct {
	mu     sync.RWMutex
	visits map[model.RevisionID]*model.Visit
	latest map[model.Fingerprint]model.RevisionID
	events map[model.Fingerprint][]*model.VisitEvent
}

func newVisitRepository() *visitRepository {
	return &visitRepository{
		visits: make(map[model.RevisionID]*model.Visit),
		latest: make(map[model.Fingerprint]model.RevisionID),
		events: make(map[model.Fingerprint][]*model.VisitEvent),
	}
}

// copyVisit creates a deep copy of a visit
func copyVisit(v *model.Visit) *model.Visit {
	copied := &model.Visit{
		Fingerprint: v.Fingerprint,
		Revision:    v.Revision,
		URL:         v.URL,
		Status:      v.Status,
		FailedStage: v.FailedStage,
		FailReason:  v.FailReason,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		CompletedAt: v.CompletedAt,
	}
	if v.Occurrences != nil {
		copied.Occurrences = make([]time.Time, len(v.Occurrences))
		copy(copied.Occurrences, v.Occurrences)
	}
	if v.Attempts != nil {
		copied.Attempts = make(map[types.Stage]int, len(v.Attempts))
		for stage, n := range v.Attempts {
			copied.Attempts[stage] = n
		}
	}
	return copied
}

func copyEvent(e *model.VisitEvent) *model.VisitEvent {
	copied := *e
	return &copied
}

func (r *visitRepository) RecordEvent(ctx context.Context, event *model.VisitEvent, policy model.RecordPolicy) (*model.RecordDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := copyEvent(event)
	if stored.ID == "" {
		stored.ID = model.NewEventID()
	}
	stored.CreatedAt = now
	r.events[stored.Fingerprint] = append(r.events[stored.Fingerprint], stored)

	current, exists := r.lookupLatest(stored.Fingerprint)
	if exists && !r.needsNewRevision(current, stored.ObservedAt, policy) {
		current.Occurrences = append(current.Occurrences, stored.ObservedAt)
		sort.Slice(current.Occurrences, func(i, j int) bool {
			return current.Occurrences[i].Before(current.Occurrences[j])
		})
		current.UpdatedAt = now
		return &model.RecordDecision{Visit: copyVisit(current), Coalesced: true}, nil
	}

	visit := &model.Visit{
		Fingerprint: stored.Fingerprint,
		Revision:    model.NewRevisionID(),
		URL:         stored.URL,
		Occurrences: []time.Time{stored.ObservedAt},
		Status:      types.VisitStatusPending,
		Attempts:    make(map[types.Stage]int),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.visits[visit.Revision] = visit
	r.latest[visit.Fingerprint] = visit.Revision

	return &model.RecordDecision{Visit: copyVisit(visit), Spawned: true}, nil
}

func (r *visitRepository) lookupLatest(fp model.Fingerprint) (*model.Visit, bool) {
	rev, ok := r.latest[fp]
	if !ok {
		return nil, false
	}
	visit, ok := r.visits[rev]
	return visit, ok
}

// needsNewRevision applies the dedup policy of the event store: a
// non-terminal visit always coalesces, a failed visit always spawns a new
// revision, and a completed visit spawns only when older than the reprocess
// interval and outside the cool-down window.
func (r *visitRepository) needsNewRevision(current *model.Visit, observedAt time.Time, policy model.RecordPolicy) bool {
	switch current.Status {
	case types.VisitStatusFailed:
		return true
	case types.VisitStatusDone:
		if observedAt.Sub(current.LastOccurrence()) < policy.CooldownWindow {
			return false
		}
		return observedAt.Sub(current.CompletedAt) >= policy.ReprocessInterval
	default:
		return false
	}
}

func (r *visitRepository) GetLatest(ctx context.Context, fp model.Fingerprint) (*model.Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visit, ok := r.lookupLatest(fp)
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "visit not found", goerr.V("fingerprint", fp))
	}
	return copyVisit(visit), nil
}

func (r *visitRepository) GetRevision(ctx context.Context, rev model.RevisionID) (*model.Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visit, ok := r.visits[rev]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
	}
	return copyVisit(visit), nil
}

func (r *visitRepository) Transition(ctx context.Context, rev model.RevisionID, from, to types.VisitStatus) (*model.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visit, ok := r.visits[rev]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
	}
	if visit.Status != from {
		return nil, goerr.Wrap(interfaces.ErrConflict, "visit status changed",
			goerr.V("revision", rev),
			goerr.V("expected", from),
			goerr.V("actual", visit.Status))
	}
	if !from.CanTransitionTo(to) {
		return nil, goerr.Wrap(interfaces.ErrConflict, "illegal status transition",
			goerr.V("revision", rev),
			goerr.V("from", from),
			goerr.V("to", to))
	}

	now := time.Now().UTC()
	visit.Status = to
	visit.UpdatedAt = now
	if to == types.VisitStatusDone {
		visit.CompletedAt = now
	}
	return copyVisit(visit), nil
}

func (r *visitRepository) MarkFailed(ctx context.Context, rev model.RevisionID, stage types.Stage, reason string) (*model.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visit, ok := r.visits[rev]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
	}
	if visit.Status.IsTerminal() {
		return nil, goerr.Wrap(interfaces.ErrConflict, "visit already terminal",
			goerr.V("revision", rev),
			goerr.V("status", visit.Status))
	}

	visit.Status = types.VisitStatusFailed
	visit.FailedStage = stage
	visit.FailReason = reason
	visit.UpdatedAt = time.Now().UTC()
	return copyVisit(visit), nil
}

func (r *visitRepository) IncrementAttempt(ctx context.Context, rev model.RevisionID, stage types.Stage) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visit, ok := r.visits[rev]
	if !ok {
		return 0, goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
	}
	if visit.Attempts == nil {
		visit.Attempts = make(map[types.Stage]int)
	}
	visit.Attempts[stage]++
	visit.UpdatedAt = time.Now().UTC()
	return visit.Attempts[stage], nil
}

func (r *visitRepository) ListNonTerminal(ctx context.Context) ([]*model.Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Visit
	for _, visit := range r.visits {
		if !visit.Status.IsTerminal() {
			result = append(result, copyVisit(visit))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *visitRepository) ListRecentDone(ctx context.Context, limit int) ([]*model.Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Visit
	for _, visit := range r.visits {
		if visit.Status == types.VisitStatusDone {
			result = append(result, copyVisit(visit))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *visitRepository) ListEvents(ctx context.Context, fp model.Fingerprint) ([]*model.VisitEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[fp]
	result := make([]*model.VisitEvent, 0, len(events))
	for _, event := range events {
		result = append(result, copyEvent(event))
	}
	return result, nil
}

func (r *visitRepository) CountByStatus(ctx context.Context) (map[types.VisitStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.VisitStatus]int)
	for _, visit := range r.visits {
		counts[visit.Status]++
	}
	return counts, nil
}
