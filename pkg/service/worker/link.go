package worker

import (
	"context"
	"errors"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/utils/logging"
)

// runLink connects the revision into the concept graph: an "about" edge
// per extracted concept, and "related-to" edges to other pages whose
// embeddings are close enough. All reinforcement carries the revision as
// evidence, so re-running the stage changes nothing.
func (p *Pipeline) runLink(ctx context.Context, visit *model.Visit) error {
	s, err := p.repo.Knowledge().GetSummary(ctx, visit.Revision)
	if err != nil {
		return goerr.Wrap(err, "failed to load summary for linking")
	}
	emb, err := p.repo.Knowledge().GetEmbedding(ctx, visit.Revision)
	if err != nil {
		return goerr.Wrap(err, "failed to load embedding for linking")
	}

	self := model.VisitNode(visit.Fingerprint)
	evidence := visit.EvidenceID()

	conceptNodes := make([]model.NodeID, 0, len(s.Concepts))
	for _, label := range s.Concepts {
		concept, err := p.repo.Graph().GetOrCreateConcept(ctx, label)
		if err != nil {
			return goerr.Wrap(err, "failed to resolve concept", goerr.V("label", label))
		}
		node := model.ConceptNodeID(concept.ID)
		if _, err := p.repo.Graph().ReinforceEdge(ctx, types.EdgeKindAbout, self, node, 1.0, evidence); err != nil {
			return goerr.Wrap(err, "failed to reinforce about edge", goerr.V("concept", concept.ID))
		}
		conceptNodes = append(conceptNodes, node)
	}

	candidates, err := p.collectCandidates(ctx, visit, emb, conceptNodes)
	if err != nil {
		return err
	}

	logger := logging.From(ctx)
	for fp := range candidates {
		similarity, err := p.similarityTo(ctx, emb.Vector, fp)
		if err != nil {
			// A candidate without a comparable embedding is not an
			// error for this revision.
			logger.Debug("skipping link candidate", "candidate", fp, "error", err)
			continue
		}
		if similarity < p.policy.SimilarityThreshold {
			continue
		}
		if _, err := p.repo.Graph().ReinforceEdge(ctx, types.EdgeKindRelatedTo,
			self, model.VisitNode(fp), similarity, evidence); err != nil {
			return goerr.Wrap(err, "failed to reinforce related-to edge", goerr.V("candidate", fp))
		}
	}
	return nil
}

// collectCandidates gathers fingerprints of pages worth a similarity
// comparison: vector-search neighbors plus pages sharing a concept node.
func (p *Pipeline) collectCandidates(ctx context.Context, visit *model.Visit, emb *model.Embedding, conceptNodes []model.NodeID) (map[model.Fingerprint]bool, error) {
	candidates := make(map[model.Fingerprint]bool)

	hits, err := p.repo.Knowledge().SimilaritySearch(ctx, emb.Vector, emb.ModelVersion, p.policy.CandidateLimit)
	if err != nil {
		return nil, goerr.Wrap(err, "similarity search failed")
	}
	for _, hit := range hits {
		if hit.Fingerprint != visit.Fingerprint {
			candidates[hit.Fingerprint] = true
		}
	}

	for _, node := range conceptNodes {
		if len(candidates) >= p.policy.CandidateLimit {
			break
		}
		edges, err := p.repo.Graph().Edges(ctx, node)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load concept edges", goerr.V("node", node))
		}
		for _, edge := range edges {
			if edge.Kind != types.EdgeKindAbout {
				continue
			}
			other := edge.Other(node)
			if !other.IsVisit() {
				continue
			}
			fp := model.Fingerprint(other.Ref())
			if fp == visit.Fingerprint {
				continue
			}
			candidates[fp] = true
			if len(candidates) >= p.policy.CandidateLimit {
				break
			}
		}
	}
	return candidates, nil
}

// similarityTo computes the cosine similarity between vector and the
// candidate page's latest embedding.
func (p *Pipeline) similarityTo(ctx context.Context, vector []float32, fp model.Fingerprint) (float64, error) {
	latest, err := p.repo.Visit().GetLatest(ctx, fp)
	if err != nil {
		return 0, goerr.Wrap(err, "no visit for candidate")
	}
	emb, err := p.repo.Knowledge().GetEmbedding(ctx, latest.Revision)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return 0, goerr.New("candidate has no embedding")
		}
		return 0, goerr.Wrap(err, "failed to load candidate embedding")
	}
	return cosineSimilarity(vector, emb.Vector), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
