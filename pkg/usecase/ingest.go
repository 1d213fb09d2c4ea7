package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/service/worker"
	"github.com/secmon-lab/argos/pkg/utils/logging"
)

// IngestUseCase is the write path: it validates submitted events, records
// them durably, and dispatches processing jobs. Durability comes before
// dispatch, so a full queue degrades to a Throttled ack instead of losing
// the event.
type IngestUseCase struct {
	repo    interfaces.Repository
	queue   *queue.Queue
	cancels *worker.CancelRegistry
	policy  config.Policy
}

func NewIngestUseCase(repo interfaces.Repository, q *queue.Queue, cancels *worker.CancelRegistry, policy config.Policy) *IngestUseCase {
	return &IngestUseCase{
		repo:    repo,
		queue:   q,
		cancels: cancels,
		policy:  policy,
	}
}

// IngestInput is one submitted page-visit event.
type IngestInput struct {
	URL        string
	TabRef     string
	Source     string
	ObservedAt time.Time
}

// IngestResult is the acknowledgement for a submitted event.
type IngestResult struct {
	Ack         types.AckStatus
	Reason      string // set when Ack is Rejected
	Fingerprint model.Fingerprint
	Revision    model.RevisionID
}

// Submit records one visit event. A malformed event yields a Rejected
// result and no side effects; any other outcome implies the event was
// stored durably.
func (uc *IngestUseCase) Submit(ctx context.Context, input IngestInput) (*IngestResult, error) {
	normalized, err := model.NormalizeURL(input.URL)
	if err != nil {
		return &IngestResult{Ack: types.AckRejected, Reason: goerr.Unwrap(err).Error()}, nil
	}

	source := types.EventSource(input.Source).Normalize()
	if !source.IsValid() {
		return &IngestResult{Ack: types.AckRejected, Reason: "unknown event source: " + input.Source}, nil
	}

	observedAt := input.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	event := &model.VisitEvent{
		ID:          model.NewEventID(),
		Fingerprint: model.NewFingerprint(normalized),
		URL:         normalized,
		RawURL:      input.URL,
		TabRef:      input.TabRef,
		Source:      source,
		ObservedAt:  observedAt,
	}

	decision, err := uc.repo.Visit().RecordEvent(ctx, event, model.RecordPolicy{
		CooldownWindow:    uc.policy.CooldownWindow,
		ReprocessInterval: uc.policy.ReprocessInterval,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record visit event", goerr.V("url", normalized))
	}

	result := &IngestResult{
		Fingerprint: decision.Visit.Fingerprint,
		Revision:    decision.Visit.Revision,
	}

	if decision.Coalesced {
		result.Ack = types.AckCoalesced
		return result, nil
	}

	if uc.queue.TryEnqueue(queue.Job{Fingerprint: event.Fingerprint, Revision: decision.Visit.Revision}) {
		result.Ack = types.AckQueued
	} else {
		// Stored but not dispatched; the backlog drainer picks it up.
		result.Ack = types.AckThrottled
		logging.From(ctx).Warn("dispatch queue full, visit throttled",
			"fingerprint", event.Fingerprint,
			"revision", decision.Visit.Revision)
	}
	return result, nil
}

// Cancel requests cancellation of the in-flight revision for a fingerprint.
// The worker honors it at the next stage boundary.
func (uc *IngestUseCase) Cancel(ctx context.Context, fp model.Fingerprint) (*model.Visit, error) {
	visit, err := uc.repo.Visit().GetLatest(ctx, fp)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "no visit for fingerprint", goerr.V("fingerprint", fp))
		}
		return nil, goerr.Wrap(err, "failed to load visit", goerr.V("fingerprint", fp))
	}
	if visit.IsTerminal() {
		return nil, goerr.Wrap(interfaces.ErrConflict, "visit already terminal",
			goerr.V("fingerprint", fp),
			goerr.V("status", visit.Status))
	}

	uc.cancels.Request(visit.Revision)
	logging.From(ctx).Info("cancel requested",
		"fingerprint", fp,
		"revision", visit.Revision,
		"status", visit.Status)
	return visit, nil
}
