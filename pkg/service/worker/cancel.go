package worker

import (
	"sync"

	"github.com/secmon-lab/argos/pkg/domain/model"
)

// CancelRegistry collects cancellation requests for in-flight revisions.
// Workers check it at stage boundaries, so a cancel takes effect at the
// next boundary rather than mid-stage.
type CancelRegistry struct {
	mu        sync.Mutex
	requested map[model.RevisionID]bool
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		requested: make(map[model.RevisionID]bool),
	}
}

// Request marks a revision for cancellation.
func (r *CancelRegistry) Request(rev model.RevisionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested[rev] = true
}

// Cancelled reports whether the revision has a pending cancel request.
func (r *CancelRegistry) Cancelled(rev model.RevisionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested[rev]
}

// Clear drops the request once the revision reached a terminal status.
func (r *CancelRegistry) Clear(rev model.RevisionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requested, rev)
}
