package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
)

type Firestore struct {
	client    *firestore.Client
	visit     *visitRepository
	knowledge *knowledgeRepository
	graph     *graphRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix namespaces all collections, used to isolate tests.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.visit.collectionPrefix = prefix
		f.knowledge.collectionPrefix = prefix
		f.graph.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	var client *firestore.Client
	var err error
	if databaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:    client,
		visit:     newVisitRepository(client),
		knowledge: newKnowledgeRepository(client),
		graph:     newGraphRepository(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Visit() interfaces.VisitRepository {
	return f.visit
}

func (f *Firestore) Knowledge() interfaces.KnowledgeRepository {
	return f.knowledge
}

func (f *Firestore) Graph() interfaces.GraphRepository {
	return f.graph
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
