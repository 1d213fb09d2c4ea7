package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/repository/memory"
	"github.com/secmon-lab/argos/pkg/service/content"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/service/summary"
	"github.com/secmon-lab/argos/pkg/service/worker"
)

type fakeFetcher struct {
	calls atomic.Int64
	text  string
	err   error
	block chan struct{} // when set, Fetch waits until it is closed
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*content.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &content.Result{
		Title:            "Test Page",
		Text:             f.text,
		ExtractionMethod: "html-markdown",
		FetchedAt:        time.Now().UTC(),
	}, nil
}

type fakeSummarizer struct {
	calls    atomic.Int64
	failures int64 // fail this many leading calls
	concepts []string
}

func (s *fakeSummarizer) Summarize(ctx context.Context, doc *model.Document) (*summary.Result, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return nil, goerr.New("llm unavailable")
	}
	return &summary.Result{
		Summary:  "summary of " + doc.URL,
		Concepts: s.concepts,
	}, nil
}

type fakeEmbedder struct {
	vector []float32
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector, nil
}

func (e *fakeEmbedder) ModelVersion() string { return "fake-embed-001" }

func unitVector(axis int) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[axis] = 1
	return v
}

func testPolicy() config.Policy {
	policy := config.DefaultPolicy()
	policy.MaxAttempts = 3
	policy.RetryBaseDelay = time.Millisecond
	policy.RetryMaxDelay = 5 * time.Millisecond
	policy.StageTimeout = 5 * time.Second
	return policy
}

type harness struct {
	repo       interfaces.Repository
	fetcher    *fakeFetcher
	summarizer *fakeSummarizer
	cancels    *worker.CancelRegistry
	pipeline   *worker.Pipeline
	policy     config.Policy
}

func newHarness(t *testing.T, mutate func(*harness)) *harness {
	t.Helper()
	h := &harness{
		repo:       memory.New(),
		fetcher:    &fakeFetcher{text: "page body text"},
		summarizer: &fakeSummarizer{concepts: []string{"golang", "pipelines"}},
		cancels:    worker.NewCancelRegistry(),
		policy:     testPolicy(),
	}
	if mutate != nil {
		mutate(h)
	}
	h.pipeline = worker.NewPipeline(h.repo, h.fetcher, h.summarizer,
		&fakeEmbedder{vector: unitVector(0)}, nil, h.cancels, h.policy)
	t.Cleanup(func() { _ = h.repo.Close() })
	return h
}

func (h *harness) submit(t *testing.T, url string) *model.Visit {
	t.Helper()
	decision, err := h.repo.Visit().RecordEvent(context.Background(), &model.VisitEvent{
		ID:          model.NewEventID(),
		Fingerprint: model.NewFingerprint(url),
		URL:         url,
		RawURL:      url,
		Source:      types.EventSourceFullLoad,
		ObservedAt:  time.Now().UTC(),
	}, model.RecordPolicy{
		CooldownWindow:    h.policy.CooldownWindow,
		ReprocessInterval: h.policy.ReprocessInterval,
	})
	gt.NoError(t, err).Required()
	gt.Bool(t, decision.Spawned).True()
	return decision.Visit
}

func (h *harness) process(t *testing.T, visit *model.Visit) *model.Visit {
	t.Helper()
	ctx := context.Background()
	gt.NoError(t, h.pipeline.Process(ctx, queue.Job{
		Fingerprint: visit.Fingerprint,
		Revision:    visit.Revision,
	})).Required()
	got, err := h.repo.Visit().GetRevision(ctx, visit.Revision)
	gt.NoError(t, err).Required()
	return got
}

func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	visit := h.submit(t, "https://example.com/article")
	got := h.process(t, visit)

	gt.Value(t, got.Status).Equal(types.VisitStatusDone)
	gt.Bool(t, got.CompletedAt.IsZero()).False()
	gt.Number(t, got.Attempt(types.StageFetch)).Equal(1)
	gt.Number(t, got.Attempt(types.StageLink)).Equal(1)

	doc, err := h.repo.Knowledge().GetDocument(ctx, visit.Revision)
	gt.NoError(t, err).Required()
	gt.Value(t, doc.Title).Equal("Test Page")

	s, err := h.repo.Knowledge().GetSummary(ctx, visit.Revision)
	gt.NoError(t, err).Required()
	gt.Array(t, s.Concepts).Length(2)

	emb, err := h.repo.Knowledge().GetEmbedding(ctx, visit.Revision)
	gt.NoError(t, err).Required()
	gt.Value(t, emb.ModelVersion).Equal("fake-embed-001")

	// an "about" edge per concept
	edges, err := h.repo.Graph().Edges(ctx, model.VisitNode(visit.Fingerprint))
	gt.NoError(t, err).Required()
	gt.Array(t, edges).Length(2)
	for _, edge := range edges {
		gt.Value(t, edge.Kind).Equal(types.EdgeKindAbout)
		gt.Number(t, edge.Weight).Equal(1.0)
	}
}

func TestPipelineRetriesStageWithoutRefetch(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.summarizer.failures = 2
	})

	visit := h.submit(t, "https://example.com/flaky")
	got := h.process(t, visit)

	gt.Value(t, got.Status).Equal(types.VisitStatusDone)
	gt.Number(t, got.Attempt(types.StageSummarize)).Equal(3)
	// fetch succeeded once and must not run again across retries
	gt.Number(t, h.fetcher.calls.Load()).Equal(1)
	gt.Number(t, got.Attempt(types.StageFetch)).Equal(1)
}

func TestPipelineExhaustsRetries(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.summarizer.failures = 100
	})

	visit := h.submit(t, "https://example.com/broken")
	got := h.process(t, visit)

	gt.Value(t, got.Status).Equal(types.VisitStatusFailed)
	gt.Value(t, got.FailedStage).Equal(types.StageSummarize)
	gt.Value(t, got.FailReason).NotEqual("")
	gt.Number(t, got.Attempt(types.StageSummarize)).Equal(h.policy.MaxAttempts)

	// the fetched document survives for diagnosis
	_, err := h.repo.Knowledge().GetDocument(context.Background(), visit.Revision)
	gt.NoError(t, err)
}

func TestPipelineCancellation(t *testing.T) {
	h := newHarness(t, nil)

	visit := h.submit(t, "https://example.com/unwanted")
	h.cancels.Request(visit.Revision)

	got := h.process(t, visit)
	gt.Value(t, got.Status).Equal(types.VisitStatusFailed)
	gt.Value(t, got.FailReason).Equal("cancelled")
	gt.Number(t, h.fetcher.calls.Load()).Equal(0)

	// the request is consumed once acted upon
	gt.Bool(t, h.cancels.Cancelled(visit.Revision)).False()
}

func TestPipelineDropsUnknownRevision(t *testing.T) {
	h := newHarness(t, nil)
	gt.NoError(t, h.pipeline.Process(context.Background(), queue.Job{
		Fingerprint: model.NewFingerprint("https://example.com/ghost"),
		Revision:    model.NewRevisionID(),
	}))
}

func TestPipelineLinksRelatedPages(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.summarizer.concepts = []string{"distributed systems"}
	})
	ctx := context.Background()

	first := h.submit(t, "https://example.com/raft")
	gt.Value(t, h.process(t, first).Status).Equal(types.VisitStatusDone)

	second := h.submit(t, "https://example.com/paxos")
	gt.Value(t, h.process(t, second).Status).Equal(types.VisitStatusDone)

	// both pages attach to the same concept node
	concept, err := h.repo.Graph().GetOrCreateConcept(ctx, "Distributed  Systems")
	gt.NoError(t, err).Required()
	gt.Number(t, concept.VisitCount).Equal(2)

	conceptEdges, err := h.repo.Graph().Edges(ctx, model.ConceptNodeID(concept.ID))
	gt.NoError(t, err).Required()
	gt.Array(t, conceptEdges).Length(2)

	// identical embeddings make the pages related with full similarity
	edges, err := h.repo.Graph().Edges(ctx, model.VisitNode(second.Fingerprint))
	gt.NoError(t, err).Required()

	var related *model.Edge
	for _, edge := range edges {
		if edge.Kind == types.EdgeKindRelatedTo {
			related = edge
		}
	}
	gt.Value(t, related).NotNil()
	gt.Number(t, related.Weight).Equal(1.0)
	gt.Value(t, related.Other(model.VisitNode(second.Fingerprint))).
		Equal(model.VisitNode(first.Fingerprint))
}
