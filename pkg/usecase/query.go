package usecase

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/service/embedding"
	"github.com/secmon-lab/argos/pkg/service/queue"
)

// QueryUseCase is the read-only facade over the knowledge store and the
// concept graph. It never mutates pipeline state.
type QueryUseCase struct {
	repo     interfaces.Repository
	queue    *queue.Queue
	embedder embedding.Embedder
}

func NewQueryUseCase(repo interfaces.Repository, q *queue.Queue, embedder embedding.Embedder) *QueryUseCase {
	return &QueryUseCase{
		repo:     repo,
		queue:    q,
		embedder: embedder,
	}
}

// SearchResult is one similarity search hit hydrated with its summary.
type SearchResult struct {
	Fingerprint model.Fingerprint
	Revision    model.RevisionID
	URL         string
	Title       string
	Summary     string
	Concepts    []string
}

// Search embeds the query text and returns the nearest pages.
func (uc *QueryUseCase) Search(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if uc.embedder == nil {
		return nil, goerr.New("text search requires an embedding model")
	}
	if query == "" {
		return nil, goerr.New("query must not be empty")
	}

	vector, err := uc.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	return uc.SearchByVector(ctx, vector, limit)
}

// SearchByVector returns the pages whose embeddings are nearest to the
// given vector. Only embeddings of the active model version are searched.
func (uc *QueryUseCase) SearchByVector(ctx context.Context, vector []float32, limit int) ([]*SearchResult, error) {
	if uc.embedder == nil {
		return nil, goerr.New("vector search requires an embedding model")
	}
	if len(vector) != model.EmbeddingDimension {
		return nil, goerr.New("unexpected vector dimension",
			goerr.V("got", len(vector)),
			goerr.V("want", model.EmbeddingDimension))
	}
	if limit <= 0 {
		limit = 10
	}

	hits, err := uc.repo.Knowledge().SimilaritySearch(ctx, vector, uc.embedder.ModelVersion(), limit)
	if err != nil {
		return nil, goerr.Wrap(err, "similarity search failed")
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, hit := range hits {
		result := &SearchResult{
			Fingerprint: hit.Fingerprint,
			Revision:    hit.Revision,
			URL:         hit.URL,
		}
		if s, err := uc.repo.Knowledge().GetSummary(ctx, hit.Revision); err == nil {
			result.Summary = s.Text
			result.Concepts = s.Concepts
		}
		if doc, err := uc.repo.Knowledge().GetDocument(ctx, hit.Revision); err == nil {
			result.Title = doc.Title
		}
		results = append(results, result)
	}
	return results, nil
}

// VisitDetail is the full processing state of one fingerprint.
type VisitDetail struct {
	Visit   *model.Visit
	Events  []*model.VisitEvent
	Summary *model.Summary // nil until the summarize stage completed
}

// GetVisit returns the latest revision, its event log, and its summary.
func (uc *QueryUseCase) GetVisit(ctx context.Context, fp model.Fingerprint) (*VisitDetail, error) {
	visit, err := uc.repo.Visit().GetLatest(ctx, fp)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load visit", goerr.V("fingerprint", fp))
	}

	events, err := uc.repo.Visit().ListEvents(ctx, fp)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load event log", goerr.V("fingerprint", fp))
	}

	detail := &VisitDetail{Visit: visit, Events: events}
	if s, err := uc.repo.Knowledge().GetSummary(ctx, visit.Revision); err == nil {
		detail.Summary = s
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, goerr.Wrap(err, "failed to load summary", goerr.V("fingerprint", fp))
	}
	return detail, nil
}

// GraphNode is one node of a traversal result. Concept nodes carry their
// label and visit count; visit nodes only their ID.
type GraphNode struct {
	ID         model.NodeID
	Label      string
	VisitCount int
}

// GraphView is the neighborhood returned by Traverse.
type GraphView struct {
	Nodes []*GraphNode
	Edges []*model.Edge
}

const maxTraverseNodes = 200

// Traverse walks the concept graph breadth-first from a start node up to
// the given depth.
func (uc *QueryUseCase) Traverse(ctx context.Context, start model.NodeID, depth int) (*GraphView, error) {
	if !start.IsVisit() && !start.IsConcept() {
		return nil, goerr.New("invalid node ID", goerr.V("node", start))
	}
	if depth <= 0 {
		depth = 1
	}

	view := &GraphView{}
	visited := map[model.NodeID]bool{start: true}
	seenEdges := map[model.EdgeID]bool{}
	frontier := []model.NodeID{start}

	if node, err := uc.resolveNode(ctx, start); err != nil {
		return nil, err
	} else if node != nil {
		view.Nodes = append(view.Nodes, node)
	}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []model.NodeID
		for _, current := range frontier {
			edges, err := uc.repo.Graph().Edges(ctx, current)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to load edges", goerr.V("node", current))
			}
			for _, edge := range edges {
				if !seenEdges[edge.ID] {
					seenEdges[edge.ID] = true
					view.Edges = append(view.Edges, edge)
				}
				other := edge.Other(current)
				if visited[other] || len(visited) >= maxTraverseNodes {
					continue
				}
				visited[other] = true
				next = append(next, other)

				node, err := uc.resolveNode(ctx, other)
				if err != nil {
					return nil, err
				}
				if node != nil {
					view.Nodes = append(view.Nodes, node)
				}
			}
		}
		frontier = next
	}
	return view, nil
}

func (uc *QueryUseCase) resolveNode(ctx context.Context, id model.NodeID) (*GraphNode, error) {
	node := &GraphNode{ID: id}
	if !id.IsConcept() {
		return node, nil
	}

	concept, err := uc.repo.Graph().GetConcept(ctx, model.ConceptID(id.Ref()))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return node, nil
		}
		return nil, goerr.Wrap(err, "failed to load concept", goerr.V("node", id))
	}
	node.Label = concept.Label
	node.VisitCount = concept.VisitCount
	return node, nil
}

// Stats is an operational snapshot of the pipeline.
type Stats struct {
	VisitsByStatus map[types.VisitStatus]int
	QueueLen       int
	QueueCap       int
}

// GetStats returns visit counts per status and queue occupancy.
func (uc *QueryUseCase) GetStats(ctx context.Context) (*Stats, error) {
	counts, err := uc.repo.Visit().CountByStatus(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count visits")
	}
	return &Stats{
		VisitsByStatus: counts,
		QueueLen:       uc.queue.Len(),
		QueueCap:       uc.queue.Cap(),
	}, nil
}
