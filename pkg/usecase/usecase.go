package usecase

import (
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/secmon-lab/argos/pkg/service/embedding"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/service/worker"
)

type UseCases struct {
	repo     interfaces.Repository
	policy   config.Policy
	queue    *queue.Queue
	cancels  *worker.CancelRegistry
	embedder embedding.Embedder

	Ingest *IngestUseCase
	Query  *QueryUseCase
}

type Option func(*UseCases)

// WithPolicy overrides the default pipeline policy.
func WithPolicy(policy config.Policy) Option {
	return func(uc *UseCases) {
		uc.policy = policy
	}
}

// WithEmbedder enables text search by providing the query-side embedder.
func WithEmbedder(embedder embedding.Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = embedder
	}
}

// WithCancelRegistry shares the worker pool's cancel registry so that
// cancel requests from the API reach in-flight revisions.
func WithCancelRegistry(cancels *worker.CancelRegistry) Option {
	return func(uc *UseCases) {
		uc.cancels = cancels
	}
}

func New(repo interfaces.Repository, q *queue.Queue, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:    repo,
		policy:  config.DefaultPolicy(),
		queue:   q,
		cancels: worker.NewCancelRegistry(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Ingest = NewIngestUseCase(repo, q, uc.cancels, uc.policy)
	uc.Query = NewQueryUseCase(repo, q, uc.embedder)

	return uc
}
