package interfaces

import (
	"context"

	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

// GraphRepository is the concept graph store. Node creation is get-or-create
// and edge weights are reinforced atomically per edge; these are the store's
// transactional boundary for concurrent workers.
type GraphRepository interface {
	// GetOrCreateConcept returns the node for the normalized label,
	// creating it exactly once per distinct label.
	GetOrCreateConcept(ctx context.Context, label string) (*model.ConceptNode, error)

	// GetConcept retrieves a concept node by ID
	GetConcept(ctx context.Context, id model.ConceptID) (*model.ConceptNode, error)

	// ReinforceEdge adds weight to the edge between a and b, creating it
	// when absent. Reinforcement with an evidence ID that was already
	// applied to the edge is a no-op, making the link stage idempotent.
	ReinforceEdge(ctx context.Context, kind types.EdgeKind, a, b model.NodeID, weight float64, evidenceID string) (*model.Edge, error)

	// Edges returns all edges attached to a node.
	Edges(ctx context.Context, node model.NodeID) ([]*model.Edge, error)
}
