package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/secmon-lab/argos/pkg/cli/config"
	httpctrl "github.com/secmon-lab/argos/pkg/controller/http"
	"github.com/secmon-lab/argos/pkg/service/content"
	"github.com/secmon-lab/argos/pkg/service/embedding"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/service/summary"
	"github.com/secmon-lab/argos/pkg/service/worker"
	"github.com/secmon-lab/argos/pkg/usecase"
	"github.com/secmon-lab/argos/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var fetchUserAgent string
	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var policyCfg config.PipelinePolicy
	var archiveCfg config.Archive

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("ARGOS_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "fetch-user-agent",
			Usage:       "User-Agent header for page fetches",
			Sources:     cli.EnvVars("ARGOS_FETCH_USER_AGENT"),
			Destination: &fetchUserAgent,
		},
	}

	// Add shared config flags
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, policyCfg.Flags()...)
	flags = append(flags, archiveCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the ingestion gateway and processing pipeline",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			policy, err := policyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to resolve pipeline policy")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			llmClient, err := geminiCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize Gemini client")
			}
			if llmClient == nil {
				return goerr.New("gemini-project is required: the pipeline needs an LLM for summarization and embedding")
			}

			archiver, err := archiveCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize document archive")
			}

			fetcher := content.NewFetcher(content.Config{
				Timeout:   policy.StageTimeout,
				MaxBytes:  policy.DocumentMaxBytes,
				UserAgent: fetchUserAgent,
			})
			summarizer := summary.New(llmClient)
			embedder := embedding.New(llmClient, geminiCfg.EmbeddingModel())

			q := queue.New(policy.QueueCapacity)
			cancels := worker.NewCancelRegistry()

			pipeline := worker.NewPipeline(repo, fetcher, summarizer, embedder, archiver, cancels, policy)
			pool := worker.NewPool(repo, q, pipeline, policy)
			pool.Start(ctx)

			uc := usecase.New(repo, q,
				usecase.WithPolicy(policy),
				usecase.WithEmbedder(embedder),
				usecase.WithCancelRegistry(cancels),
			)

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr, "workers", policy.Workers)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				pool.Stop()
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Stop accepting requests first, then drain the workers.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					pool.Stop()
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				pool.Stop()
				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
