package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/argos/pkg/domain/model"
)

// Embedder produces fixed-dimension vectors for text. ModelVersion
// identifies the embedding model so vectors from different models are
// never compared against each other.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

type client struct {
	llmClient    gollem.LLMClient
	modelVersion string
}

var _ Embedder = &client{}

// New creates an Embedder backed by an LLM client.
func New(llmClient gollem.LLMClient, modelVersion string) Embedder {
	return &client{
		llmClient:    llmClient,
		modelVersion: modelVersion,
	}
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.llmClient.GenerateEmbedding(ctx, model.EmbeddingDimension, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, goerr.New("no embedding returned")
	}

	vector := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		vector[i] = float32(v)
	}
	return vector, nil
}

func (c *client) ModelVersion() string {
	return c.modelVersion
}
