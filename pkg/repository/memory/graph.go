package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
)

type graphRepository struct {
	mu       sync.RWMutex
	concepts map[model.ConceptID]*model.ConceptNode
	edges    map[model.EdgeID]*model.Edge
	byNode   map[model.NodeID]map[model.EdgeID]bool
}

func newGraphRepository() *graphRepository {
	return &graphRepository{
		concepts: make(map[model.ConceptID]*model.ConceptNode),
		edges:    make(map[model.EdgeID]*model.Edge),
		byNode:   make(map[model.NodeID]map[model.EdgeID]bool),
	}
}

func copyConcept(c *model.ConceptNode) *model.ConceptNode {
	copied := *c
	return &copied
}

func copyEdge(e *model.Edge) *model.Edge {
	copied := *e
	if e.Evidence != nil {
		copied.Evidence = make(map[string]bool, len(e.Evidence))
		for id := range e.Evidence {
			copied.Evidence[id] = true
		}
	}
	return &copied
}

func (r *graphRepository) GetOrCreateConcept(ctx context.Context, label string) (*model.ConceptNode, error) {
	normalized := model.NormalizeConceptLabel(label)
	if normalized == "" {
		return nil, goerr.New("concept label is empty", goerr.V("label", label))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := model.NewConceptID(normalized)
	if node, exists := r.concepts[id]; exists {
		return copyConcept(node), nil
	}

	now := time.Now().UTC()
	node := &model.ConceptNode{
		ID:        id,
		Label:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.concepts[id] = node
	return copyConcept(node), nil
}

func (r *graphRepository) GetConcept(ctx context.Context, id model.ConceptID) (*model.ConceptNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.concepts[id]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "concept not found", goerr.V("id", id))
	}
	return copyConcept(node), nil
}

func (r *graphRepository) ReinforceEdge(ctx context.Context, kind types.EdgeKind, a, b model.NodeID, weight float64, evidenceID string) (*model.Edge, error) {
	if !kind.IsValid() {
		return nil, goerr.New("invalid edge kind", goerr.V("kind", kind))
	}
	if a == b {
		return nil, goerr.New("edge endpoints must differ", goerr.V("node", a))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	id := model.NewEdgeID(kind, a, b)
	edge, exists := r.edges[id]
	if !exists {
		edge = &model.Edge{
			ID:        id,
			Kind:      kind,
			Source:    a,
			Target:    b,
			Evidence:  make(map[string]bool),
			CreatedAt: now,
		}
		r.edges[id] = edge
		for _, node := range []model.NodeID{a, b} {
			if r.byNode[node] == nil {
				r.byNode[node] = make(map[model.EdgeID]bool)
			}
			r.byNode[node][id] = true
		}
	}

	// Same evidence never counts twice.
	if edge.Evidence[evidenceID] {
		return copyEdge(edge), nil
	}
	edge.Evidence[evidenceID] = true
	edge.Weight += weight
	edge.UpdatedAt = now

	if kind == types.EdgeKindAbout {
		if node, ok := r.concepts[model.ConceptID(conceptRef(a, b))]; ok {
			node.VisitCount++
			node.UpdatedAt = now
		}
	}

	return copyEdge(edge), nil
}

// conceptRef extracts the concept endpoint of an about edge.
func conceptRef(a, b model.NodeID) string {
	if a.IsConcept() {
		return a.Ref()
	}
	return b.Ref()
}

func (r *graphRepository) Edges(ctx context.Context, node model.NodeID) ([]*model.Edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byNode[node]
	result := make([]*model.Edge, 0, len(ids))
	for id := range ids {
		result = append(result, copyEdge(r.edges[id]))
	}
	return result, nil
}
