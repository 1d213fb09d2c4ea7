package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
)

type knowledgeRepository struct {
	mu         sync.RWMutex
	documents  map[model.RevisionID]*model.Document
	superseded map[model.RevisionID][]*model.Document
	summaries  map[model.RevisionID]*model.Summary
	embeddings map[model.RevisionID]*model.Embedding
}

func newKnowledgeRepository() *knowledgeRepository {
	return &knowledgeRepository{
		documents:  make(map[model.RevisionID]*model.Document),
		superseded: make(map[model.RevisionID][]*model.Document),
		summaries:  make(map[model.RevisionID]*model.Summary),
		embeddings: make(map[model.RevisionID]*model.Embedding),
	}
}

func copyDocument(d *model.Document) *model.Document {
	copied := *d
	return &copied
}

func copySummary(s *model.Summary) *model.Summary {
	copied := *s
	if s.Concepts != nil {
		copied.Concepts = make([]string, len(s.Concepts))
		copy(copied.Concepts, s.Concepts)
	}
	return &copied
}

func copyEmbedding(e *model.Embedding) *model.Embedding {
	copied := *e
	if e.Vector != nil {
		copied.Vector = make([]float32, len(e.Vector))
		copy(copied.Vector, e.Vector)
	}
	return &copied
}

func (r *knowledgeRepository) UpsertDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := copyDocument(doc)
	if prev, exists := r.documents[doc.Revision]; exists {
		// Retained for audit, not served.
		r.superseded[doc.Revision] = append(r.superseded[doc.Revision], prev)
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.documents[doc.Revision] = stored
	return copyDocument(stored), nil
}

func (r *knowledgeRepository) GetDocument(ctx context.Context, rev model.RevisionID) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.documents[rev]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "document not found", goerr.V("revision", rev))
	}
	return copyDocument(doc), nil
}

func (r *knowledgeRepository) UpsertSummary(ctx context.Context, summary *model.Summary) (*model.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := copySummary(summary)
	if prev, exists := r.summaries[summary.Revision]; exists {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.summaries[summary.Revision] = stored
	return copySummary(stored), nil
}

func (r *knowledgeRepository) GetSummary(ctx context.Context, rev model.RevisionID) (*model.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary, exists := r.summaries[rev]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "summary not found", goerr.V("revision", rev))
	}
	return copySummary(summary), nil
}

func (r *knowledgeRepository) UpsertEmbedding(ctx context.Context, embedding *model.Embedding) (*model.Embedding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := copyEmbedding(embedding)
	if prev, exists := r.embeddings[embedding.Revision]; exists {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.embeddings[embedding.Revision] = stored
	return copyEmbedding(stored), nil
}

func (r *knowledgeRepository) GetEmbedding(ctx context.Context, rev model.RevisionID) (*model.Embedding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	embedding, exists := r.embeddings[rev]
	if !exists {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "embedding not found", goerr.V("revision", rev))
	}
	return copyEmbedding(embedding), nil
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

func (r *knowledgeRepository) SimilaritySearch(ctx context.Context, vector []float32, modelVersion string, limit int) ([]*model.SearchHit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		hit   *model.SearchHit
		score float64
	}
	var candidates []scored
	for _, embedding := range r.embeddings {
		if embedding.ModelVersion != modelVersion {
			continue
		}
		candidates = append(candidates, scored{
			hit: &model.SearchHit{
				Revision:     embedding.Revision,
				Fingerprint:  embedding.Fingerprint,
				URL:          embedding.URL,
				ModelVersion: embedding.ModelVersion,
			},
			score: cosineSimilarity(vector, embedding.Vector),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]*model.SearchHit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}
