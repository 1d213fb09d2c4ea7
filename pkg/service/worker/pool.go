package worker

import (
	"context"
	"time"

	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/utils/errutil"
	"github.com/secmon-lab/argos/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of workers consuming the dispatch queue, plus a
// backlog drainer that periodically re-enqueues non-terminal visits. The
// drainer is what makes Throttled acks and restarts safe: any durably
// recorded visit eventually reaches a worker.
type Pool struct {
	repo     interfaces.Repository
	queue    *queue.Queue
	pipeline *Pipeline
	policy   config.Policy

	// dispatched tracks revisions the drainer re-enqueued, so a stale
	// revision is handed out once per staleness window. Accessed only
	// from the drainer goroutine.
	dispatched map[model.RevisionID]time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewPool creates a worker pool. Start must be called to begin processing.
func NewPool(repo interfaces.Repository, q *queue.Queue, pipeline *Pipeline, policy config.Policy) *Pool {
	return &Pool{
		repo:       repo,
		queue:      q,
		pipeline:   pipeline,
		policy:     policy,
		dispatched: make(map[model.RevisionID]time.Time),
	}
}

// Start launches the workers and the backlog drainer. It returns
// immediately; Stop blocks until all of them exit.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	p.group = group

	for i := 0; i < p.policy.Workers; i++ {
		workerID := i
		group.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	group.Go(func() error {
		return p.runBacklogDrainer(ctx)
	})

	logging.From(ctx).Info("worker pool started",
		"workers", p.policy.Workers,
		"queue_capacity", p.queue.Cap())
}

// Stop cancels the pool and waits for all workers to drain their current
// job. In-flight stage progress is persisted, so interrupted revisions
// resume from their recorded status on the next start.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	_ = p.group.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) error {
	logger := logging.From(ctx).With("worker", workerID)
	ctx = logging.With(ctx, logger)

	for {
		job, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			return nil // context cancelled
		}
		if !ok {
			return nil // queue closed
		}

		if err := p.pipeline.Process(ctx, job); err != nil {
			_ = errutil.Handle(ctx, err, "failed to process visit job")
		}
	}
}

// runBacklogDrainer re-enqueues visits that are non-terminal but not in
// the queue: throttled at ingest, or interrupted by a restart. Duplicate
// enqueues are harmless; the pipeline drops jobs for claimed or terminal
// revisions.
func (p *Pool) runBacklogDrainer(ctx context.Context) error {
	// Drain once at startup so interrupted visits resume without waiting
	// a full interval.
	p.drainBacklog(ctx)

	ticker := time.NewTicker(p.policy.BacklogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.drainBacklog(ctx)
		}
	}
}

func (p *Pool) drainBacklog(ctx context.Context) {
	visits, err := p.repo.Visit().ListNonTerminal(ctx)
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to list backlog")
		return
	}

	// An in-flight revision belongs to the worker that claimed it: a live
	// worker persists a write (attempt, transition) at least once per
	// stage run plus one backoff sleep. Only a revision silent for longer
	// than that is orphaned and safe to re-dispatch. Pending revisions
	// carry no claim; the Pending→Fetching CAS makes duplicates harmless.
	staleAfter := p.policy.StageTimeout + p.policy.RetryMaxDelay
	now := time.Now().UTC()

	for rev, at := range p.dispatched {
		if now.Sub(at) >= staleAfter {
			delete(p.dispatched, rev)
		}
	}

	if len(visits) == 0 {
		return
	}

	enqueued := 0
	for _, visit := range visits {
		if visit.Status != types.VisitStatusPending {
			if now.Sub(visit.UpdatedAt) < staleAfter {
				continue
			}
			if _, recent := p.dispatched[visit.Revision]; recent {
				continue
			}
		}
		if p.queue.TryEnqueue(queue.Job{Fingerprint: visit.Fingerprint, Revision: visit.Revision}) {
			p.dispatched[visit.Revision] = now
			enqueued++
		}
	}
	logging.From(ctx).Debug("backlog drained", "pending", len(visits), "enqueued", enqueued)
}
