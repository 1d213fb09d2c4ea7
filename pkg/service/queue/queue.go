package queue

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/model"
)

// ErrClosed is returned when the queue has been closed.
var ErrClosed = goerr.New("queue is closed")

// Job is one unit of dispatch: a Visit revision to drive through the
// pipeline. Delivery is at-least-once; the worker reloads the revision's
// persisted status, so duplicate jobs are harmless.
type Job struct {
	Fingerprint model.Fingerprint
	Revision    model.RevisionID
}

// Queue is a bounded multi-producer/multi-consumer dispatch queue. The
// bounded capacity is the backpressure mechanism: producers must choose
// between TryEnqueue (non-blocking, gateway path) and Enqueue (blocking,
// backlog drain path).
type Queue struct {
	jobs chan Job
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		jobs: make(chan Job, capacity),
	}
}

// TryEnqueue offers a job without blocking. It reports false when the queue
// is full; callers are expected to rely on the backlog drainer to deliver
// the job later.
func (q *Queue) TryEnqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Enqueue blocks until the job is accepted or the context is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "enqueue cancelled")
	}
}

// Dequeue blocks until a job is available, the queue is closed, or the
// context is done. The second return is false when the queue is drained
// and closed.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, false, nil
		}
		return job, true, nil
	case <-ctx.Done():
		return Job{}, false, goerr.Wrap(ctx.Err(), "dequeue cancelled")
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.jobs)
}

// Close stops the queue. Pending jobs remain consumable; further enqueues
// panic, so Close must happen after all producers stopped.
func (q *Queue) Close() {
	close(q.jobs)
}
