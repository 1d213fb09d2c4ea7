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
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/repository/firestore"
	"github.com/secmon-lab/argos/pkg/repository/memory"
)

var testPolicy = model.RecordPolicy{
	CooldownWindow:    10 * time.Minute,
	ReprocessInterval: 7 * 24 * time.Hour,
}

func newEvent(url string, observedAt time.Time) *model.VisitEvent {
	return &model.VisitEvent{
		ID:          model.NewEventID(),
		Fingerprint: model.NewFingerprint(url),
		URL:         url,
		RawURL:      url,
		Source:      types.EventSourceFullLoad,
		ObservedAt:  observedAt,
	}
}

// advanceToDone walks a pending visit through every status to DONE.
func advanceToDone(t *testing.T, repo interfaces.Repository, rev model.RevisionID) {
	t.Helper()
	ctx := context.Background()

	chain := []types.VisitStatus{
		types.VisitStatusPending,
		types.VisitStatusFetching,
		types.VisitStatusSummarizing,
		types.VisitStatusEmbedding,
		types.VisitStatusLinking,
		types.VisitStatusDone,
	}
	for i := 0; i < len(chain)-1; i++ {
		_, err := repo.Visit().Transition(ctx, rev, chain[i], chain[i+1])
		gt.NoError(t, err).Required()
	}
}

func runVisitRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("RecordEvent spawns a pending visit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		now := time.Now().UTC()
		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/a", now), testPolicy)
		gt.NoError(t, err).Required()

		gt.Bool(t, decision.Spawned).True()
		gt.Bool(t, decision.Coalesced).False()
		gt.Value(t, decision.Visit.Status).Equal(types.VisitStatusPending)
		gt.Number(t, len(decision.Visit.Occurrences)).Equal(1)
		gt.String(t, string(decision.Visit.Revision)).NotEqual("")
	})

	t.Run("repeat events coalesce into one visit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const url = "https://example.com/coalesce"
		now := time.Now().UTC()

		first, err := repo.Visit().RecordEvent(ctx, newEvent(url, now), testPolicy)
		gt.NoError(t, err).Required()
		gt.Bool(t, first.Spawned).True()

		for i := 1; i <= 2; i++ {
			decision, err := repo.Visit().RecordEvent(ctx, newEvent(url, now.Add(time.Duration(i)*time.Second)), testPolicy)
			gt.NoError(t, err).Required()
			gt.Bool(t, decision.Coalesced).True()
			gt.Value(t, decision.Visit.Revision).Equal(first.Visit.Revision)
		}

		latest, err := repo.Visit().GetLatest(ctx, model.NewFingerprint(url))
		gt.NoError(t, err).Required()
		gt.Number(t, len(latest.Occurrences)).Equal(3)

		events, err := repo.Visit().ListEvents(ctx, model.NewFingerprint(url))
		gt.NoError(t, err).Required()
		gt.Number(t, len(events)).Equal(3)
	})

	t.Run("failed visit spawns a new revision", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const url = "https://example.com/failed"
		now := time.Now().UTC()

		first, err := repo.Visit().RecordEvent(ctx, newEvent(url, now), testPolicy)
		gt.NoError(t, err).Required()

		_, err = repo.Visit().MarkFailed(ctx, first.Visit.Revision, types.StageFetch, "connection refused")
		gt.NoError(t, err).Required()

		second, err := repo.Visit().RecordEvent(ctx, newEvent(url, now.Add(time.Second)), testPolicy)
		gt.NoError(t, err).Required()
		gt.Bool(t, second.Spawned).True()
		gt.Value(t, second.Visit.Revision).NotEqual(first.Visit.Revision)
	})

	t.Run("done visit within cooldown coalesces", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const url = "https://example.com/cooldown"
		now := time.Now().UTC()

		first, err := repo.Visit().RecordEvent(ctx, newEvent(url, now), testPolicy)
		gt.NoError(t, err).Required()
		advanceToDone(t, repo, first.Visit.Revision)

		decision, err := repo.Visit().RecordEvent(ctx, newEvent(url, now.Add(time.Minute)), testPolicy)
		gt.NoError(t, err).Required()
		gt.Bool(t, decision.Coalesced).True()
		gt.Value(t, decision.Visit.Revision).Equal(first.Visit.Revision)
	})

	t.Run("done visit older than reprocess interval spawns", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const url = "https://example.com/reprocess"
		now := time.Now().UTC()

		first, err := repo.Visit().RecordEvent(ctx, newEvent(url, now), testPolicy)
		gt.NoError(t, err).Required()
		advanceToDone(t, repo, first.Visit.Revision)

		later := now.Add(testPolicy.ReprocessInterval + time.Hour)
		decision, err := repo.Visit().RecordEvent(ctx, newEvent(url, later), testPolicy)
		gt.NoError(t, err).Required()
		gt.Bool(t, decision.Spawned).True()
		gt.Value(t, decision.Visit.Revision).NotEqual(first.Visit.Revision)
	})

	t.Run("Transition advances one step", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/transition", time.Now().UTC()), testPolicy)
		gt.NoError(t, err).Required()
		rev := decision.Visit.Revision

		updated, err := repo.Visit().Transition(ctx, rev, types.VisitStatusPending, types.VisitStatusFetching)
		gt.NoError(t, err).Required()
		gt.Value(t, updated.Status).Equal(types.VisitStatusFetching)
	})

	t.Run("Transition with stale from state is a conflict", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/conflict", time.Now().UTC()), testPolicy)
		gt.NoError(t, err).Required()
		rev := decision.Visit.Revision

		_, err = repo.Visit().Transition(ctx, rev, types.VisitStatusPending, types.VisitStatusFetching)
		gt.NoError(t, err).Required()

		_, err = repo.Visit().Transition(ctx, rev, types.VisitStatusPending, types.VisitStatusFetching)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, interfaces.ErrConflict)).True()
	})

	t.Run("Transition rejects skipping a status", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/skip", time.Now().UTC()), testPolicy)
		gt.NoError(t, err).Required()

		_, err = repo.Visit().Transition(ctx, decision.Visit.Revision, types.VisitStatusPending, types.VisitStatusEmbedding)
		gt.Error(t, err)
	})

	t.Run("MarkFailed records stage and reason", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/markfailed", time.Now().UTC()), testPolicy)
		gt.NoError(t, err).Required()

		failed, err := repo.Visit().MarkFailed(ctx, decision.Visit.Revision, types.StageSummarize, "empty summary")
		gt.NoError(t, err).Required()
		gt.Value(t, failed.Status).Equal(types.VisitStatusFailed)
		gt.Value(t, failed.FailedStage).Equal(types.StageSummarize)
		gt.Value(t, failed.FailReason).Equal("empty summary")
	})

	t.Run("IncrementAttempt counts per stage", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		decision, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/attempts", time.Now().UTC()), testPolicy)
		gt.NoError(t, err).Required()
		rev := decision.Visit.Revision

		for want := 1; want <= 3; want++ {
			count, err := repo.Visit().IncrementAttempt(ctx, rev, types.StageFetch)
			gt.NoError(t, err).Required()
			gt.Number(t, count).Equal(want)
		}

		count, err := repo.Visit().IncrementAttempt(ctx, rev, types.StageEmbed)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(1)

		visit, err := repo.Visit().GetRevision(ctx, rev)
		gt.NoError(t, err).Required()
		gt.Number(t, visit.Attempt(types.StageFetch)).Equal(3)
		gt.Number(t, visit.Attempt(types.StageEmbed)).Equal(1)
	})

	t.Run("ListNonTerminal excludes done and failed", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()

		pending, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/nt-pending", now), testPolicy)
		gt.NoError(t, err).Required()

		done, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/nt-done", now), testPolicy)
		gt.NoError(t, err).Required()
		advanceToDone(t, repo, done.Visit.Revision)

		failed, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/nt-failed", now), testPolicy)
		gt.NoError(t, err).Required()
		_, err = repo.Visit().MarkFailed(ctx, failed.Visit.Revision, types.StageFetch, "gone")
		gt.NoError(t, err).Required()

		visits, err := repo.Visit().ListNonTerminal(ctx)
		gt.NoError(t, err).Required()

		revs := map[model.RevisionID]bool{}
		for _, v := range visits {
			revs[v.Revision] = true
		}
		gt.Bool(t, revs[pending.Visit.Revision]).True()
		gt.Bool(t, revs[done.Visit.Revision]).False()
		gt.Bool(t, revs[failed.Visit.Revision]).False()
	})

	t.Run("CountByStatus groups visits", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for i := 0; i < 2; i++ {
			_, err := repo.Visit().RecordEvent(ctx, newEvent(fmt.Sprintf("https://example.com/count/%d", i), now), testPolicy)
			gt.NoError(t, err).Required()
		}
		done, err := repo.Visit().RecordEvent(ctx, newEvent("https://example.com/count/done", now), testPolicy)
		gt.NoError(t, err).Required()
		advanceToDone(t, repo, done.Visit.Revision)

		counts, err := repo.Visit().CountByStatus(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, counts[types.VisitStatusPending]).Equal(2)
		gt.Number(t, counts[types.VisitStatusDone]).Equal(1)
	})

	t.Run("ListRecentDone returns newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC()

		var revs []model.RevisionID
		for i := 0; i < 3; i++ {
			decision, err := repo.Visit().RecordEvent(ctx, newEvent(fmt.Sprintf("https://example.com/recent/%d", i), now), testPolicy)
			gt.NoError(t, err).Required()
			advanceToDone(t, repo, decision.Visit.Revision)
			revs = append(revs, decision.Visit.Revision)
			time.Sleep(10 * time.Millisecond)
		}

		visits, err := repo.Visit().ListRecentDone(ctx, 2)
		gt.NoError(t, err).Required()
		gt.Number(t, len(visits)).Equal(2)
		gt.Value(t, visits[0].Revision).Equal(revs[2])
		gt.Value(t, visits[1].Revision).Equal(revs[1])
	})
}

func TestVisitRepository_Memory(t *testing.T) {
	runVisitRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		return memory.New()
	})
}

func TestVisitRepository_Firestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	runVisitRepositoryTest(t, func(t *testing.T) interfaces.Repository {
		repo, err := firestore.New(context.Background(), projectID, databaseID,
			firestore.WithCollectionPrefix(fmt.Sprintf("test-%d-", time.Now().UnixNano())))
		gt.NoError(t, err).Required()
		return repo
	})
}
