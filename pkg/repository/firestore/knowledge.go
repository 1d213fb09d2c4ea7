package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// documentDoc is the Firestore document representation of model.Document.
type documentDoc struct {
	Revision         string    `firestore:"Revision"`
	Fingerprint      string    `firestore:"Fingerprint"`
	URL              string    `firestore:"URL"`
	Title            string    `firestore:"Title,omitempty"`
	Text             string    `firestore:"Text"`
	ExtractionMethod string    `firestore:"ExtractionMethod"`
	Truncated        bool      `firestore:"Truncated"`
	FetchedAt        time.Time `firestore:"FetchedAt"`
	CreatedAt        time.Time `firestore:"CreatedAt"`
	UpdatedAt        time.Time `firestore:"UpdatedAt"`
}

type summaryDoc struct {
	Revision  string    `firestore:"Revision"`
	Text      string    `firestore:"Text"`
	Concepts  []string  `firestore:"Concepts"`
	CreatedAt time.Time `firestore:"CreatedAt"`
	UpdatedAt time.Time `firestore:"UpdatedAt"`
}

// embeddingDoc stores the vector as firestore.Vector32 so that FindNearest
// vector search works.
type embeddingDoc struct {
	Revision     string             `firestore:"Revision"`
	Fingerprint  string             `firestore:"Fingerprint"`
	URL          string             `firestore:"URL"`
	Embedding    firestore.Vector32 `firestore:"Embedding"`
	ModelVersion string             `firestore:"ModelVersion"`
	CreatedAt    time.Time          `firestore:"CreatedAt"`
	UpdatedAt    time.Time          `firestore:"UpdatedAt"`
}

func toDocumentDoc(d *model.Document) *documentDoc {
	return &documentDoc{
		Revision:         string(d.Revision),
		Fingerprint:      string(d.Fingerprint),
		URL:              d.URL,
		Title:            d.Title,
		Text:             d.Text,
		ExtractionMethod: d.ExtractionMethod,
		Truncated:        d.Truncated,
		FetchedAt:        d.FetchedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func fromDocumentDoc(d *documentDoc) *model.Document {
	return &model.Document{
		Revision:         model.RevisionID(d.Revision),
		Fingerprint:      model.Fingerprint(d.Fingerprint),
		URL:              d.URL,
		Title:            d.Title,
		Text:             d.Text,
		ExtractionMethod: d.ExtractionMethod,
		Truncated:        d.Truncated,
		FetchedAt:        d.FetchedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type knowledgeRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newKnowledgeRepository(client *firestore.Client) *knowledgeRepository {
	return &knowledgeRepository{client: client}
}

func (r *knowledgeRepository) documents() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "documents")
}

func (r *knowledgeRepository) documentArchive() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "documents_archive")
}

func (r *knowledgeRepository) summaries() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "summaries")
}

func (r *knowledgeRepository) embeddings() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "embeddings")
}

func (r *knowledgeRepository) UpsertDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	now := time.Now().UTC()
	stored := *doc
	stored.CreatedAt = now
	stored.UpdatedAt = now

	ref := r.documents().Doc(string(doc.Revision))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get document")
		}
		if err == nil {
			// Superseded revisions are retained for audit, not served.
			var prev documentDoc
			if err := snap.DataTo(&prev); err != nil {
				return goerr.Wrap(err, "failed to unmarshal document")
			}
			stored.CreatedAt = prev.CreatedAt
			archiveID := fmt.Sprintf("%s-%d", prev.Revision, prev.UpdatedAt.UnixNano())
			if err := tx.Set(r.documentArchive().Doc(archiveID), &prev); err != nil {
				return goerr.Wrap(err, "failed to archive superseded document")
			}
		}
		return tx.Set(ref, toDocumentDoc(&stored))
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert document", goerr.V("revision", doc.Revision))
	}
	return &stored, nil
}

func (r *knowledgeRepository) GetDocument(ctx context.Context, rev model.RevisionID) (*model.Document, error) {
	snap, err := r.documents().Doc(string(rev)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "document not found", goerr.V("revision", rev))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("revision", rev))
	}
	var d documentDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal document")
	}
	return fromDocumentDoc(&d), nil
}

func (r *knowledgeRepository) UpsertSummary(ctx context.Context, summary *model.Summary) (*model.Summary, error) {
	now := time.Now().UTC()
	stored := *summary
	stored.CreatedAt = now
	stored.UpdatedAt = now

	doc := &summaryDoc{
		Revision:  string(stored.Revision),
		Text:      stored.Text,
		Concepts:  stored.Concepts,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}
	if _, err := r.summaries().Doc(string(summary.Revision)).Set(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to upsert summary", goerr.V("revision", summary.Revision))
	}
	return &stored, nil
}

func (r *knowledgeRepository) GetSummary(ctx context.Context, rev model.RevisionID) (*model.Summary, error) {
	snap, err := r.summaries().Doc(string(rev)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "summary not found", goerr.V("revision", rev))
		}
		return nil, goerr.Wrap(err, "failed to get summary", goerr.V("revision", rev))
	}
	var d summaryDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal summary")
	}
	return &model.Summary{
		Revision:  model.RevisionID(d.Revision),
		Text:      d.Text,
		Concepts:  d.Concepts,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func (r *knowledgeRepository) UpsertEmbedding(ctx context.Context, embedding *model.Embedding) (*model.Embedding, error) {
	now := time.Now().UTC()
	stored := *embedding
	stored.CreatedAt = now
	stored.UpdatedAt = now

	doc := &embeddingDoc{
		Revision:     string(stored.Revision),
		Fingerprint:  string(stored.Fingerprint),
		URL:          stored.URL,
		Embedding:    firestore.Vector32(stored.Vector),
		ModelVersion: stored.ModelVersion,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}
	if _, err := r.embeddings().Doc(string(embedding.Revision)).Set(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to upsert embedding", goerr.V("revision", embedding.Revision))
	}
	return &stored, nil
}

func (r *knowledgeRepository) GetEmbedding(ctx context.Context, rev model.RevisionID) (*model.Embedding, error) {
	snap, err := r.embeddings().Doc(string(rev)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "embedding not found", goerr.V("revision", rev))
		}
		return nil, goerr.Wrap(err, "failed to get embedding", goerr.V("revision", rev))
	}
	var d embeddingDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal embedding")
	}
	return &model.Embedding{
		Revision:     model.RevisionID(d.Revision),
		Fingerprint:  model.Fingerprint(d.Fingerprint),
		URL:          d.URL,
		Vector:       []float32(d.Embedding),
		ModelVersion: d.ModelVersion,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func (r *knowledgeRepository) SimilaritySearch(ctx context.Context, vector []float32, modelVersion string, limit int) ([]*model.SearchHit, error) {
	vq := r.embeddings().
		Where("ModelVersion", "==", modelVersion).
		FindNearest("Embedding", firestore.Vector32(vector), limit, firestore.DistanceMeasureCosine, nil)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	hits := make([]*model.SearchHit, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results")
		}
		var d embeddingDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal embedding from vector search")
		}
		hits = append(hits, &model.SearchHit{
			Revision:     model.RevisionID(d.Revision),
			Fingerprint:  model.Fingerprint(d.Fingerprint),
			URL:          d.URL,
			ModelVersion: d.ModelVersion,
		})
	}
	return hits, nil
}
