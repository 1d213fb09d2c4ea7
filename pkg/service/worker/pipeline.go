package worker

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/service/archive"
	"github.com/secmon-lab/argos/pkg/service/content"
	"github.com/secmon-lab/argos/pkg/service/embedding"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/service/summary"
	"github.com/secmon-lab/argos/pkg/utils/async"
	"github.com/secmon-lab/argos/pkg/utils/errutil"
	"github.com/secmon-lab/argos/pkg/utils/logging"
)

// Pipeline drives one Visit revision through fetch, summarize, embed and
// link. Progress is persisted per stage, so a revision interrupted by a
// restart resumes from its recorded status instead of starting over.
type Pipeline struct {
	repo       interfaces.Repository
	fetcher    content.Fetcher
	summarizer summary.Summarizer
	embedder   embedding.Embedder
	archiver   archive.Archiver
	cancels    *CancelRegistry
	policy     config.Policy
}

// NewPipeline assembles a pipeline from its capability adapters.
func NewPipeline(
	repo interfaces.Repository,
	fetcher content.Fetcher,
	summarizer summary.Summarizer,
	embedder embedding.Embedder,
	archiver archive.Archiver,
	cancels *CancelRegistry,
	policy config.Policy,
) *Pipeline {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &Pipeline{
		repo:       repo,
		fetcher:    fetcher,
		summarizer: summarizer,
		embedder:   embedder,
		archiver:   archiver,
		cancels:    cancels,
		policy:     policy,
	}
}

// Process runs the revision named by the job through its remaining stages.
// Delivery is at-least-once, so a job for an already-terminal or
// already-claimed revision is dropped without error.
func (p *Pipeline) Process(ctx context.Context, job queue.Job) error {
	logger := logging.From(ctx).With("fingerprint", job.Fingerprint, "revision", job.Revision)
	ctx = logging.With(ctx, logger)

	visit, err := p.repo.Visit().GetRevision(ctx, job.Revision)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			logger.Warn("dropping job for unknown revision")
			return nil
		}
		return goerr.Wrap(err, "failed to load revision")
	}

	// A job for a revision already past Pending belongs to the worker
	// that claimed it. The owner persists a write at least once per
	// stage run plus one backoff sleep, so a fresh UpdatedAt means the
	// owner is alive and this job is a duplicate. Only a revision
	// silent for longer is orphaned and may be resumed here.
	if !visit.IsTerminal() && visit.Status != types.VisitStatusPending {
		if time.Since(visit.UpdatedAt) < p.policy.StageTimeout+p.policy.RetryMaxDelay {
			logger.Debug("dropping duplicate job for claimed revision", "status", visit.Status)
			return nil
		}
	}

	for !visit.IsTerminal() {
		if err := ctx.Err(); err != nil {
			// Shutdown. The backlog drainer re-dispatches this
			// revision on the next start.
			return nil
		}

		stage, ok := types.StageForStatus(visit.Status)
		if !ok {
			return nil
		}

		if p.cancels.Cancelled(visit.Revision) {
			if _, err := p.repo.Visit().MarkFailed(ctx, visit.Revision, stage, "cancelled"); err != nil {
				return goerr.Wrap(err, "failed to mark cancelled revision")
			}
			p.cancels.Clear(visit.Revision)
			logger.Info("visit cancelled", "stage", stage)
			return nil
		}

		// Claim a pending revision before running its first stage.
		if visit.Status == types.VisitStatusPending {
			claimed, err := p.repo.Visit().Transition(ctx, visit.Revision,
				types.VisitStatusPending, types.VisitStatusFetching)
			if err != nil {
				if errors.Is(err, interfaces.ErrConflict) {
					return nil // another worker claimed it
				}
				return goerr.Wrap(err, "failed to claim revision")
			}
			visit = claimed
		}

		if done, err := p.runStageWithRetry(ctx, visit, stage); err != nil || done {
			p.cancels.Clear(visit.Revision)
			return err
		}

		next, err := p.repo.Visit().Transition(ctx, visit.Revision, stage.Status(), stage.NextStatus())
		if err != nil {
			if errors.Is(err, interfaces.ErrConflict) {
				return nil
			}
			return goerr.Wrap(err, "failed to advance status", goerr.V("stage", stage))
		}
		visit = next
		logger.Debug("stage completed", "stage", stage, "status", visit.Status)
	}

	p.cancels.Clear(visit.Revision)
	return nil
}

// runStageWithRetry executes one stage with bounded backoff retries. The
// done return is true when the revision was moved to FAILED and no further
// processing must happen.
func (p *Pipeline) runStageWithRetry(ctx context.Context, visit *model.Visit, stage types.Stage) (bool, error) {
	for {
		attempt, err := p.repo.Visit().IncrementAttempt(ctx, visit.Revision, stage)
		if err != nil {
			return false, goerr.Wrap(err, "failed to record attempt", goerr.V("stage", stage))
		}

		stageErr := p.runStage(ctx, visit, stage)
		if stageErr == nil {
			return false, nil
		}
		_ = errutil.Handle(ctx, stageErr, "stage attempt failed")

		if attempt >= p.policy.MaxAttempts {
			reason := goerr.Unwrap(stageErr).Error()
			if _, err := p.repo.Visit().MarkFailed(ctx, visit.Revision, stage, reason); err != nil {
				return false, goerr.Wrap(err, "failed to mark revision failed", goerr.V("stage", stage))
			}
			errutil.Report(ctx, goerr.Wrap(stageErr, "pipeline stage exhausted retries",
				goerr.V("stage", stage),
				goerr.V("revision", visit.Revision),
				goerr.V("attempts", attempt)),
				"visit processing failed")
			return true, nil
		}

		if err := sleep(ctx, backoffDelay(attempt, p.policy.RetryBaseDelay, p.policy.RetryMaxDelay)); err != nil {
			return false, nil // shutting down
		}
	}
}

func (p *Pipeline) runStage(ctx context.Context, visit *model.Visit, stage types.Stage) error {
	ctx, cancel := context.WithTimeout(ctx, p.policy.StageTimeout)
	defer cancel()

	switch stage {
	case types.StageFetch:
		return p.runFetch(ctx, visit)
	case types.StageSummarize:
		return p.runSummarize(ctx, visit)
	case types.StageEmbed:
		return p.runEmbed(ctx, visit)
	case types.StageLink:
		return p.runLink(ctx, visit)
	default:
		return goerr.New("unknown stage", goerr.V("stage", stage))
	}
}

func (p *Pipeline) runFetch(ctx context.Context, visit *model.Visit) error {
	result, err := p.fetcher.Fetch(ctx, visit.URL)
	if err != nil {
		return goerr.Wrap(err, "fetch failed", goerr.V("url", visit.URL))
	}

	// A re-run within the same revision supersedes the stored document;
	// keep a copy of the old text before overwriting it. The archive
	// write must not hold up the stage.
	if old, err := p.repo.Knowledge().GetDocument(ctx, visit.Revision); err == nil {
		async.Dispatch(ctx, func(ctx context.Context) error {
			return p.archiver.Store(ctx, old)
		})
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return goerr.Wrap(err, "failed to check existing document")
	}

	doc := &model.Document{
		Revision:         visit.Revision,
		Fingerprint:      visit.Fingerprint,
		URL:              visit.URL,
		Title:            result.Title,
		Text:             result.Text,
		ExtractionMethod: result.ExtractionMethod,
		Truncated:        result.Truncated,
		FetchedAt:        result.FetchedAt,
	}
	if _, err := p.repo.Knowledge().UpsertDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to store document")
	}
	return nil
}

func (p *Pipeline) runSummarize(ctx context.Context, visit *model.Visit) error {
	doc, err := p.repo.Knowledge().GetDocument(ctx, visit.Revision)
	if err != nil {
		return goerr.Wrap(err, "failed to load document for summarization")
	}

	result, err := p.summarizer.Summarize(ctx, doc)
	if err != nil {
		return goerr.Wrap(err, "summarization failed")
	}

	if _, err := p.repo.Knowledge().UpsertSummary(ctx, &model.Summary{
		Revision: visit.Revision,
		Text:     result.Summary,
		Concepts: result.Concepts,
	}); err != nil {
		return goerr.Wrap(err, "failed to store summary")
	}
	return nil
}

func (p *Pipeline) runEmbed(ctx context.Context, visit *model.Visit) error {
	s, err := p.repo.Knowledge().GetSummary(ctx, visit.Revision)
	if err != nil {
		return goerr.Wrap(err, "failed to load summary for embedding")
	}

	vector, err := p.embedder.Embed(ctx, s.Text)
	if err != nil {
		return goerr.Wrap(err, "embedding failed")
	}

	if _, err := p.repo.Knowledge().UpsertEmbedding(ctx, &model.Embedding{
		Revision:     visit.Revision,
		Fingerprint:  visit.Fingerprint,
		URL:          visit.URL,
		Vector:       vector,
		ModelVersion: p.embedder.ModelVersion(),
	}); err != nil {
		return goerr.Wrap(err, "failed to store embedding")
	}
	return nil
}
