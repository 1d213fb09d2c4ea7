package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// visitDoc is the Firestore document representation of model.Visit.
type visitDoc struct {
	Revision    string         `firestore:"Revision"`
	Fingerprint string         `firestore:"Fingerprint"`
	URL         string         `firestore:"URL"`
	Occurrences []time.Time    `firestore:"Occurrences"`
	Status      string         `firestore:"Status"`
	FailedStage string         `firestore:"FailedStage,omitempty"`
	FailReason  string         `firestore:"FailReason,omitempty"`
	Attempts    map[string]int `firestore:"Attempts,omitempty"`
	CreatedAt   time.Time      `firestore:"CreatedAt"`
	UpdatedAt   time.Time      `firestore:"UpdatedAt"`
	CompletedAt time.Time      `firestore:"CompletedAt,omitempty"`
}

// fingerprintDoc tracks the current revision per fingerprint. It is the
// conditional-write anchor for the one-non-terminal-visit invariant.
type fingerprintDoc struct {
	Fingerprint     string `firestore:"Fingerprint"`
	CurrentRevision string `firestore:"CurrentRevision"`
}

// eventDoc is the Firestore document representation of model.VisitEvent.
type eventDoc struct {
	ID          string    `firestore:"ID"`
	Fingerprint string    `firestore:"Fingerprint"`
	URL         string    `firestore:"URL"`
	RawURL      string    `firestore:"RawURL,omitempty"`
	TabRef      string    `firestore:"TabRef,omitempty"`
	Source      string    `firestore:"Source"`
	ObservedAt  time.Time `firestore:"ObservedAt"`
	CreatedAt   time.Time `firestore:"CreatedAt"`
}

func toVisitDoc(v *model.Visit) *visitDoc {
	doc := &visitDoc{
		Revision:    string(v.Revision),
		Fingerprint: string(v.Fingerprint),
		URL:         v.URL,
		Occurrences: v.Occurrences,
		Status:      string(v.Status),
		FailedStage: string(v.FailedStage),
		FailReason:  v.FailReason,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		CompletedAt: v.CompletedAt,
	}
	if len(v.Attempts) > 0 {
		doc.Attempts = make(map[string]int, len(v.Attempts))
		for stage, n := range v.Attempts {
			doc.Attempts[string(stage)] = n
		}
	}
	return doc
}

func fromVisitDoc(d *visitDoc) *model.Visit {
	v := &model.Visit{
		Revision:    model.RevisionID(d.Revision),
		Fingerprint: model.Fingerprint(d.Fingerprint),
		URL:         d.URL,
		Occurrences: d.Occurrences,
		Status:      types.VisitStatus(d.Status),
		FailedStage: types.Stage(d.FailedStage),
		FailReason:  d.FailReason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
	}
	if len(d.Attempts) > 0 {
		v.Attempts = make(map[types.Stage]int, len(d.Attempts))
		for stage, n := range d.Attempts {
			v.Attempts[types.Stage(stage)] = n
		}
	}
	return v
}

func toEventDoc(e *model.VisitEvent) *eventDoc {
	return &eventDoc{
		ID:          string(e.ID),
		Fingerprint: string(e.Fingerprint),
		URL:         e.URL,
		RawURL:      e.RawURL,
		TabRef:      e.TabRef,
		Source:      string(e.Source),
		ObservedAt:  e.ObservedAt,
		CreatedAt:   e.CreatedAt,
	}
}

func fromEventDoc(d *eventDoc) *model.VisitEvent {
	return &model.VisitEvent{
		ID:          model.EventID(d.ID),
		Fingerprint: model.Fingerprint(d.Fingerprint),
		URL:         d.URL,
		RawURL:      d.RawURL,
		TabRef:      d.TabRef,
		Source:      types.EventSource(d.Source),
		ObservedAt:  d.ObservedAt,
		CreatedAt:   d.CreatedAt,
	}
}

type visitRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newVisitRepository(client *firestore.Client) *visitRepository {
	return &visitRepository{client: client}
}

func (r *visitRepository) visits() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "visits")
}

func (r *visitRepository) fingerprints() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "fingerprints")
}

func (r *visitRepository) eventsCollection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "events")
}

// needsNewRevision mirrors the memory backend's dedup decision.
func needsNewRevision(current *model.Visit, observedAt time.Time, policy model.RecordPolicy) bool {
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

func (r *visitRepository) RecordEvent(ctx context.Context, event *model.VisitEvent, policy model.RecordPolicy) (*model.RecordDecision, error) {
	now := time.Now().UTC()
	stored := *event
	if stored.ID == "" {
		stored.ID = model.NewEventID()
	}
	stored.CreatedAt = now

	var decision *model.RecordDecision
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		decision = nil

		fpRef := r.fingerprints().Doc(string(stored.Fingerprint))
		var current *model.Visit
		var currentRef *firestore.DocumentRef

		fpSnap, err := tx.Get(fpRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get fingerprint pointer")
		}
		if err == nil {
			var fp fingerprintDoc
			if err := fpSnap.DataTo(&fp); err != nil {
				return goerr.Wrap(err, "failed to unmarshal fingerprint pointer")
			}
			currentRef = r.visits().Doc(fp.CurrentRevision)
			visitSnap, err := tx.Get(currentRef)
			if err != nil {
				return goerr.Wrap(err, "failed to get current visit", goerr.V("revision", fp.CurrentRevision))
			}
			var d visitDoc
			if err := visitSnap.DataTo(&d); err != nil {
				return goerr.Wrap(err, "failed to unmarshal visit")
			}
			current = fromVisitDoc(&d)
		}

		eventRef := r.eventsCollection().Doc(string(stored.ID))
		if err := tx.Set(eventRef, toEventDoc(&stored)); err != nil {
			return goerr.Wrap(err, "failed to append event")
		}

		if current != nil && !needsNewRevision(current, stored.ObservedAt, policy) {
			current.Occurrences = append(current.Occurrences, stored.ObservedAt)
			sort.Slice(current.Occurrences, func(i, j int) bool {
				return current.Occurrences[i].Before(current.Occurrences[j])
			})
			current.UpdatedAt = now
			if err := tx.Set(currentRef, toVisitDoc(current)); err != nil {
				return goerr.Wrap(err, "failed to merge occurrence")
			}
			decision = &model.RecordDecision{Visit: current, Coalesced: true}
			return nil
		}

		visit := &model.Visit{
			Fingerprint: stored.Fingerprint,
			Revision:    model.NewRevisionID(),
			URL:         stored.URL,
			Occurrences: []time.Time{stored.ObservedAt},
			Status:      types.VisitStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Set(r.visits().Doc(string(visit.Revision)), toVisitDoc(visit)); err != nil {
			return goerr.Wrap(err, "failed to create visit")
		}
		if err := tx.Set(fpRef, &fingerprintDoc{
			Fingerprint:     string(visit.Fingerprint),
			CurrentRevision: string(visit.Revision),
		}); err != nil {
			return goerr.Wrap(err, "failed to update fingerprint pointer")
		}
		decision = &model.RecordDecision{Visit: visit, Spawned: true}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record event", goerr.V("fingerprint", stored.Fingerprint))
	}
	return decision, nil
}

func (r *visitRepository) GetLatest(ctx context.Context, fp model.Fingerprint) (*model.Visit, error) {
	fpSnap, err := r.fingerprints().Doc(string(fp)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "visit not found", goerr.V("fingerprint", fp))
		}
		return nil, goerr.Wrap(err, "failed to get fingerprint pointer", goerr.V("fingerprint", fp))
	}
	var pointer fingerprintDoc
	if err := fpSnap.DataTo(&pointer); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal fingerprint pointer")
	}
	return r.GetRevision(ctx, model.RevisionID(pointer.CurrentRevision))
}

func (r *visitRepository) GetRevision(ctx context.Context, rev model.RevisionID) (*model.Visit, error) {
	snap, err := r.visits().Doc(string(rev)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
		}
		return nil, goerr.Wrap(err, "failed to get visit", goerr.V("revision", rev))
	}
	var d visitDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal visit")
	}
	return fromVisitDoc(&d), nil
}

func (r *visitRepository) Transition(ctx context.Context, rev model.RevisionID, from, to types.VisitStatus) (*model.Visit, error) {
	var result *model.Visit
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.visits().Doc(string(rev))
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
			}
			return goerr.Wrap(err, "failed to get visit")
		}
		var d visitDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to unmarshal visit")
		}
		visit := fromVisitDoc(&d)

		if visit.Status != from {
			return goerr.Wrap(interfaces.ErrConflict, "visit status changed",
				goerr.V("revision", rev),
				goerr.V("expected", from),
				goerr.V("actual", visit.Status))
		}
		if !from.CanTransitionTo(to) {
			return goerr.Wrap(interfaces.ErrConflict, "illegal status transition",
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
		if err := tx.Set(ref, toVisitDoc(visit)); err != nil {
			return goerr.Wrap(err, "failed to update visit")
		}
		result = visit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *visitRepository) MarkFailed(ctx context.Context, rev model.RevisionID, stage types.Stage, reason string) (*model.Visit, error) {
	var result *model.Visit
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.visits().Doc(string(rev))
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
			}
			return goerr.Wrap(err, "failed to get visit")
		}
		var d visitDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to unmarshal visit")
		}
		visit := fromVisitDoc(&d)

		if visit.Status.IsTerminal() {
			return goerr.Wrap(interfaces.ErrConflict, "visit already terminal",
				goerr.V("revision", rev),
				goerr.V("status", visit.Status))
		}

		visit.Status = types.VisitStatusFailed
		visit.FailedStage = stage
		visit.FailReason = reason
		visit.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, toVisitDoc(visit)); err != nil {
			return goerr.Wrap(err, "failed to update visit")
		}
		result = visit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *visitRepository) IncrementAttempt(ctx context.Context, rev model.RevisionID, stage types.Stage) (int, error) {
	var count int
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.visits().Doc(string(rev))
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(interfaces.ErrNotFound, "visit revision not found", goerr.V("revision", rev))
			}
			return goerr.Wrap(err, "failed to get visit")
		}
		var d visitDoc
		if err := snap.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to unmarshal visit")
		}
		if d.Attempts == nil {
			d.Attempts = make(map[string]int)
		}
		d.Attempts[string(stage)]++
		d.UpdatedAt = time.Now().UTC()
		count = d.Attempts[string(stage)]
		return tx.Set(ref, &d)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

var nonTerminalStatuses = []string{
	string(types.VisitStatusPending),
	string(types.VisitStatusFetching),
	string(types.VisitStatusSummarizing),
	string(types.VisitStatusEmbedding),
	string(types.VisitStatusLinking),
}

func (r *visitRepository) ListNonTerminal(ctx context.Context) ([]*model.Visit, error) {
	iter := r.visits().
		Where("Status", "in", nonTerminalStatuses).
		OrderBy("CreatedAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var result []*model.Visit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate non-terminal visits")
		}
		var d visitDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal visit")
		}
		result = append(result, fromVisitDoc(&d))
	}
	return result, nil
}

func (r *visitRepository) ListRecentDone(ctx context.Context, limit int) ([]*model.Visit, error) {
	iter := r.visits().
		Where("Status", "==", string(types.VisitStatusDone)).
		OrderBy("CompletedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var result []*model.Visit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate completed visits")
		}
		var d visitDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal visit")
		}
		result = append(result, fromVisitDoc(&d))
	}
	return result, nil
}

func (r *visitRepository) ListEvents(ctx context.Context, fp model.Fingerprint) ([]*model.VisitEvent, error) {
	iter := r.eventsCollection().
		Where("Fingerprint", "==", string(fp)).
		OrderBy("CreatedAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var result []*model.VisitEvent
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events")
		}
		var d eventDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal event")
		}
		result = append(result, fromEventDoc(&d))
	}
	return result, nil
}

func (r *visitRepository) CountByStatus(ctx context.Context) (map[types.VisitStatus]int, error) {
	iter := r.visits().Select("Status").Documents(ctx)
	defer iter.Stop()

	counts := make(map[types.VisitStatus]int)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate visits")
		}
		value, err := snap.DataAt("Status")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read visit status")
		}
		if s, ok := value.(string); ok {
			counts[types.VisitStatus(s)]++
		}
	}
	return counts, nil
}
