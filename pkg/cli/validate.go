package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/cli/config"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var policyCfg config.PipelinePolicy

	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the pipeline policy configuration",
		Flags:   policyCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			policy, err := policyCfg.Configure()
			if err != nil {
				color.Red("✗ policy validation failed")
				return goerr.Wrap(err, "policy validation failed")
			}

			if path := policyCfg.Path(); path != "" {
				color.Green("✓ policy file is valid: %s", path)
			} else {
				color.Yellow("no policy file specified, showing effective defaults")
			}

			bold := color.New(color.Bold)
			bold.Println("Effective policy:")
			fmt.Printf("  cooldown_window:      %s\n", policy.CooldownWindow)
			fmt.Printf("  reprocess_interval:   %s\n", policy.ReprocessInterval)
			fmt.Printf("  workers:              %d\n", policy.Workers)
			fmt.Printf("  queue_capacity:       %d\n", policy.QueueCapacity)
			fmt.Printf("  max_attempts:         %d\n", policy.MaxAttempts)
			fmt.Printf("  retry_base_delay:     %s\n", policy.RetryBaseDelay)
			fmt.Printf("  retry_max_delay:      %s\n", policy.RetryMaxDelay)
			fmt.Printf("  stage_timeout:        %s\n", policy.StageTimeout)
			fmt.Printf("  similarity_threshold: %.2f\n", policy.SimilarityThreshold)
			fmt.Printf("  candidate_limit:      %d\n", policy.CandidateLimit)
			fmt.Printf("  document_max_bytes:   %d\n", policy.DocumentMaxBytes)
			fmt.Printf("  backlog_interval:     %s\n", policy.BacklogInterval)

			return nil
		},
	}
}
