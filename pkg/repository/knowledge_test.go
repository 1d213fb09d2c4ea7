package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/repository/firestore"
	"github.com/secmon-lab/argos/pkg/repository/memory"
)

const testModelVersion = "text-embedding-004"

// unitVector builds an EmbeddingDimension-length vector pointing along the
// given axis.
func unitVector(axis int) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[axis] = 1
	return v
}

func storeEmbedding(t *testing.T, repo interfaces.Repository, url string, vector []float32) *model.Embedding {
	t.Helper()
	emb := &model.Embedding{
		Revision:     model.NewRevisionID(),
		Fingerprint:  model.NewFingerprint(url),
		URL:          url,
		Vector:       vector,
		ModelVersion: testModelVersion,
	}
	stored, err := repo.Knowledge().UpsertEmbedding(context.Background(), emb)
	gt.NoError(t, err).Required()
	return stored
}

func runKnowledgeRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("document roundtrip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rev := model.NewRevisionID()
		doc := &model.Document{
			Revision:         rev,
			Fingerprint:      model.NewFingerprint("https://example.com/doc"),
			URL:              "https://example.com/doc",
			Title:            "Example Page",
			Text:             "# Example\n\nbody text",
			ExtractionMethod: "html-markdown",
			FetchedAt:        time.Now().UTC(),
		}

		created, err := repo.Knowledge().UpsertDocument(ctx, doc)
		gt.NoError(t, err).Required()
		gt.Bool(t, created.CreatedAt.IsZero()).False()

		got, err := repo.Knowledge().GetDocument(ctx, rev)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Title).Equal("Example Page")
		gt.Value(t, got.Text).Equal("# Example\n\nbody text")
	})

	t.Run("GetDocument for unknown revision is not found", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Knowledge().GetDocument(context.Background(), model.NewRevisionID())
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, interfaces.ErrNotFound)).True()
	})

	t.Run("UpsertDocument supersedes the stored document", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rev := model.NewRevisionID()
		fp := model.NewFingerprint("https://example.com/supersede")

		_, err := repo.Knowledge().UpsertDocument(ctx, &model.Document{
			Revision: rev, Fingerprint: fp, URL: "https://example.com/supersede",
			Text: "old text", FetchedAt: time.Now().UTC(),
		})
		gt.NoError(t, err).Required()

		_, err = repo.Knowledge().UpsertDocument(ctx, &model.Document{
			Revision: rev, Fingerprint: fp, URL: "https://example.com/supersede",
			Text: "new text", FetchedAt: time.Now().UTC(),
		})
		gt.NoError(t, err).Required()

		got, err := repo.Knowledge().GetDocument(ctx, rev)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Text).Equal("new text")
	})

	t.Run("summary roundtrip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rev := model.NewRevisionID()
		_, err := repo.Knowledge().UpsertSummary(ctx, &model.Summary{
			Revision: rev,
			Text:     "A page about distributed systems.",
			Concepts: []string{"distributed systems", "consensus"},
		})
		gt.NoError(t, err).Required()

		got, err := repo.Knowledge().GetSummary(ctx, rev)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Text).Equal("A page about distributed systems.")
		gt.Number(t, len(got.Concepts)).Equal(2)
	})

	t.Run("embedding roundtrip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stored := storeEmbedding(t, repo, "https://example.com/emb", unitVector(0))

		got, err := repo.Knowledge().GetEmbedding(ctx, stored.Revision)
		gt.NoError(t, err).Required()
		gt.Number(t, len(got.Vector)).Equal(model.EmbeddingDimension)
		gt.Value(t, got.ModelVersion).Equal(testModelVersion)
	})

	t.Run("SimilaritySearch returns nearest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		near := storeEmbedding(t, repo, "https://example.com/near", unitVector(0))
		storeEmbedding(t, repo, "https://example.com/far", unitVector(1))

		hits, err := repo.Knowledge().SimilaritySearch(ctx, unitVector(0), testModelVersion, 2)
		gt.NoError(t, err).Required()
		gt.Number(t, len(hits)).Equal(2)
		gt.Value(t, hits[0].Revision).Equal(near.Revision)
	})

	t.Run("SimilaritySearch ignores other model versions", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		storeEmbedding(t, repo, "https://example.com/current", unitVector(0))
		_, err := repo.Knowledge().UpsertEmbedding(ctx, &model.Embedding{
			Revision:     model.NewRevisionID(),
			Fingerprint:  model.NewFingerprint("https://example.com/legacy"),
			URL:          "https://example.com/legacy",
			Vector:       unitVector(0),
			ModelVersion: "text-embedding-legacy",
		})
		gt.NoError(t, err).Required()

		hits, err := repo.Knowledge().SimilaritySearch(ctx, unitVector(0), testModelVersion, 10)
		gt.NoError(t, err).Required()
		gt.Number(t, len(hits)).Equal(1)
		gt.Value(t, hits[0].URL).Equal("https://example.com/current")
	})
}

func TestKnowledgeRepository_Memory(t *testing.T) {
	runKnowledgeRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		return memory.New()
	})
}

func TestKnowledgeRepository_Firestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	runKnowledgeRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		repo, err := firestore.New(context.Background(), projectID, databaseID,
			firestore.WithCollectionPrefix(fmt.Sprintf("test-%d-", time.Now().UnixNano())))
		gt.NoError(t, err).Required()
		return repo
	})
}
