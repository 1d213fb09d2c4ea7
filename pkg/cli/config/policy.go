package config

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	modelconfig "github.com/secmon-lab/argos/pkg/domain/model/config"
	"github.com/urfave/cli/v3"
)

// PipelinePolicy holds CLI flags for the processing policy. Values from a
// policy file are the base; flags set explicitly override them.
type PipelinePolicy struct {
	path           string
	workers        int
	queueCapacity  int
	cooldownWindow time.Duration
}

// Flags returns CLI flags for policy configuration
func (p *PipelinePolicy) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-file",
			Usage:       "Path to a TOML policy file",
			Sources:     cli.EnvVars("ARGOS_POLICY_FILE"),
			Destination: &p.path,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Number of pipeline workers (overrides policy file)",
			Sources:     cli.EnvVars("ARGOS_WORKERS"),
			Destination: &p.workers,
		},
		&cli.IntFlag{
			Name:        "queue-capacity",
			Usage:       "Dispatch queue capacity (overrides policy file)",
			Sources:     cli.EnvVars("ARGOS_QUEUE_CAPACITY"),
			Destination: &p.queueCapacity,
		},
		&cli.DurationFlag{
			Name:        "cooldown-window",
			Usage:       "Repeat-event coalescing window (overrides policy file)",
			Sources:     cli.EnvVars("ARGOS_COOLDOWN_WINDOW"),
			Destination: &p.cooldownWindow,
		},
	}
}

// Path returns the configured policy file path
func (p *PipelinePolicy) Path() string {
	return p.path
}

// Configure resolves the effective policy: defaults, then the policy file,
// then explicit flag overrides.
func (p *PipelinePolicy) Configure() (modelconfig.Policy, error) {
	policy := modelconfig.DefaultPolicy()

	if p.path != "" {
		loaded, err := modelconfig.LoadPolicy(p.path)
		if err != nil {
			return policy, err
		}
		policy = loaded
	}

	if p.workers > 0 {
		policy.Workers = p.workers
	}
	if p.queueCapacity > 0 {
		policy.QueueCapacity = p.queueCapacity
	}
	if p.cooldownWindow > 0 {
		policy.CooldownWindow = p.cooldownWindow
	}

	if err := policy.Validate(); err != nil {
		return policy, goerr.Wrap(err, "invalid pipeline policy")
	}
	return policy, nil
}
