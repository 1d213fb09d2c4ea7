package firestore

import (
	"context"
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

type conceptDoc struct {
	ID         string    `firestore:"ID"`
	Label      string    `firestore:"Label"`
	VisitCount int       `firestore:"VisitCount"`
	CreatedAt  time.Time `firestore:"CreatedAt"`
	UpdatedAt  time.Time `firestore:"UpdatedAt"`
}

type edgeDoc struct {
	ID        string          `firestore:"ID"`
	Kind      string          `firestore:"Kind"`
	Source    string          `firestore:"Source"`
	Target    string          `firestore:"Target"`
	Weight    float64         `firestore:"Weight"`
	Evidence  map[string]bool `firestore:"Evidence"`
	CreatedAt time.Time       `firestore:"CreatedAt"`
	UpdatedAt time.Time       `firestore:"UpdatedAt"`
}

func fromConceptDoc(d *conceptDoc) *model.ConceptNode {
	return &model.ConceptNode{
		ID:         model.ConceptID(d.ID),
		Label:      d.Label,
		VisitCount: d.VisitCount,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func fromEdgeDoc(d *edgeDoc) *model.Edge {
	return &model.Edge{
		ID:        model.EdgeID(d.ID),
		Kind:      types.EdgeKind(d.Kind),
		Source:    model.NodeID(d.Source),
		Target:    model.NodeID(d.Target),
		Weight:    d.Weight,
		Evidence:  d.Evidence,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type graphRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newGraphRepository(client *firestore.Client) *graphRepository {
	return &graphRepository{client: client}
}

func (r *graphRepository) concepts() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "concepts")
}

func (r *graphRepository) edges() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "edges")
}

func (r *graphRepository) GetOrCreateConcept(ctx context.Context, label string) (*model.ConceptNode, error) {
	normalized := model.NormalizeConceptLabel(label)
	if normalized == "" {
		return nil, goerr.New("concept label is empty", goerr.V("label", label))
	}
	id := model.NewConceptID(normalized)
	ref := r.concepts().Doc(string(id))

	var result *model.ConceptNode
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get concept")
		}
		if err == nil {
			var d conceptDoc
			if err := snap.DataTo(&d); err != nil {
				return goerr.Wrap(err, "failed to unmarshal concept")
			}
			result = fromConceptDoc(&d)
			return nil
		}

		now := time.Now().UTC()
		doc := &conceptDoc{
			ID:        string(id),
			Label:     normalized,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Set(ref, doc); err != nil {
			return goerr.Wrap(err, "failed to create concept")
		}
		result = fromConceptDoc(doc)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get or create concept", goerr.V("label", label))
	}
	return result, nil
}

func (r *graphRepository) GetConcept(ctx context.Context, id model.ConceptID) (*model.ConceptNode, error) {
	snap, err := r.concepts().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "concept not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get concept", goerr.V("id", id))
	}
	var d conceptDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal concept")
	}
	return fromConceptDoc(&d), nil
}

func (r *graphRepository) ReinforceEdge(ctx context.Context, kind types.EdgeKind, a, b model.NodeID, weight float64, evidenceID string) (*model.Edge, error) {
	if !kind.IsValid() {
		return nil, goerr.New("invalid edge kind", goerr.V("kind", kind))
	}
	if a == b {
		return nil, goerr.New("edge endpoints must differ", goerr.V("node", a))
	}

	id := model.NewEdgeID(kind, a, b)
	ref := r.edges().Doc(string(id))

	var result *model.Edge
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get edge")
		}

		var d edgeDoc
		if err == nil {
			if err := snap.DataTo(&d); err != nil {
				return goerr.Wrap(err, "failed to unmarshal edge")
			}
		} else {
			d = edgeDoc{
				ID:        string(id),
				Kind:      string(kind),
				Source:    string(a),
				Target:    string(b),
				Evidence:  make(map[string]bool),
				CreatedAt: now,
			}
		}

		// Same evidence never counts twice.
		if d.Evidence[evidenceID] {
			result = fromEdgeDoc(&d)
			return nil
		}

		var conceptRef *firestore.DocumentRef
		var concept conceptDoc
		applyCount := false
		if kind == types.EdgeKindAbout {
			node := a
			if !node.IsConcept() {
				node = b
			}
			conceptRef = r.concepts().Doc(node.Ref())
			conceptSnap, err := tx.Get(conceptRef)
			if err == nil {
				if err := conceptSnap.DataTo(&concept); err != nil {
					return goerr.Wrap(err, "failed to unmarshal concept")
				}
				applyCount = true
			} else if status.Code(err) != codes.NotFound {
				return goerr.Wrap(err, "failed to get concept for edge")
			}
		}

		if d.Evidence == nil {
			d.Evidence = make(map[string]bool)
		}
		d.Evidence[evidenceID] = true
		d.Weight += weight
		d.UpdatedAt = now
		if err := tx.Set(ref, &d); err != nil {
			return goerr.Wrap(err, "failed to update edge")
		}

		if applyCount {
			concept.VisitCount++
			concept.UpdatedAt = now
			if err := tx.Set(conceptRef, &concept); err != nil {
				return goerr.Wrap(err, "failed to update concept visit count")
			}
		}

		result = fromEdgeDoc(&d)
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to reinforce edge",
			goerr.V("kind", kind),
			goerr.V("source", a),
			goerr.V("target", b))
	}
	return result, nil
}

func (r *graphRepository) Edges(ctx context.Context, node model.NodeID) ([]*model.Edge, error) {
	seen := make(map[string]bool)
	var result []*model.Edge

	for _, field := range []string{"Source", "Target"} {
		iter := r.edges().Where(field, "==", string(node)).Documents(ctx)
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, goerr.Wrap(err, "failed to iterate edges", goerr.V("node", node))
			}
			var d edgeDoc
			if err := snap.DataTo(&d); err != nil {
				iter.Stop()
				return nil, goerr.Wrap(err, "failed to unmarshal edge")
			}
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			result = append(result, fromEdgeDoc(&d))
		}
		iter.Stop()
	}
	return result, nil
}
