package interfaces

import (
	"context"

	"github.com/secmon-lab/argos/pkg/domain/model"
)

// KnowledgeRepository persists per-revision artifacts. All upserts are
// idempotent under the same revision key: re-running a stage overwrites the
// stored artifact instead of duplicating it.
type KnowledgeRepository interface {
	// UpsertDocument stores the document for its revision, superseding a
	// previously stored one.
	UpsertDocument(ctx context.Context, doc *model.Document) (*model.Document, error)

	// GetDocument retrieves the current document for a revision
	GetDocument(ctx context.Context, rev model.RevisionID) (*model.Document, error)

	// UpsertSummary stores the summary for its revision
	UpsertSummary(ctx context.Context, summary *model.Summary) (*model.Summary, error)

	// GetSummary retrieves the summary for a revision
	GetSummary(ctx context.Context, rev model.RevisionID) (*model.Summary, error)

	// UpsertEmbedding stores the embedding for its revision
	UpsertEmbedding(ctx context.Context, embedding *model.Embedding) (*model.Embedding, error)

	// GetEmbedding retrieves the embedding for a revision
	GetEmbedding(ctx context.Context, rev model.RevisionID) (*model.Embedding, error)

	// SimilaritySearch returns up to limit revisions whose embeddings are
	// nearest to the query vector by cosine distance. Only embeddings of
	// the given model version are considered.
	SimilaritySearch(ctx context.Context, vector []float32, modelVersion string, limit int) ([]*model.SearchHit, error)
}
