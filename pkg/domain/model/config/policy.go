package config

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// Policy holds the pipeline tuning constants. The cool-down window and
// re-processing interval are product decisions, so everything here is
// loadable from a TOML file and overridable by flags.
type Policy struct {
	// CooldownWindow collapses repeat events for the same fingerprint.
	CooldownWindow time.Duration `toml:"cooldown_window"`
	// ReprocessInterval is the minimum age of a Done visit before a new
	// event spawns a fresh revision.
	ReprocessInterval time.Duration `toml:"reprocess_interval"`
	// Workers is the fixed size of the processing pool.
	Workers int `toml:"workers"`
	// QueueCapacity bounds the dispatch queue.
	QueueCapacity int `toml:"queue_capacity"`
	// MaxAttempts caps per-stage retries within one revision.
	MaxAttempts int `toml:"max_attempts"`
	// RetryBaseDelay is the first backoff delay; doubles per attempt.
	RetryBaseDelay time.Duration `toml:"retry_base_delay"`
	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `toml:"retry_max_delay"`
	// StageTimeout bounds every external adapter call.
	StageTimeout time.Duration `toml:"stage_timeout"`
	// SimilarityThreshold is the minimum cosine similarity for a
	// page-to-page edge.
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	// CandidateLimit bounds the similarity candidate set per link stage.
	CandidateLimit int `toml:"candidate_limit"`
	// DocumentMaxBytes caps stored document text.
	DocumentMaxBytes int `toml:"document_max_bytes"`
	// BacklogInterval is how often non-terminal visits missing from the
	// queue are re-enqueued.
	BacklogInterval time.Duration `toml:"backlog_interval"`
}

// DefaultPolicy returns the built-in policy values.
func DefaultPolicy() Policy {
	return Policy{
		CooldownWindow:      10 * time.Minute,
		ReprocessInterval:   7 * 24 * time.Hour,
		Workers:             4,
		QueueCapacity:       256,
		MaxAttempts:         3,
		RetryBaseDelay:      500 * time.Millisecond,
		RetryMaxDelay:       30 * time.Second,
		StageTimeout:        60 * time.Second,
		SimilarityThreshold: 0.80,
		CandidateLimit:      32,
		DocumentMaxBytes:    256 * 1024,
		BacklogInterval:     time.Minute,
	}
}

// Validate checks if the policy is internally consistent
func (p *Policy) Validate() error {
	if p.CooldownWindow <= 0 {
		return goerr.New("cooldown_window must be positive", goerr.V("value", p.CooldownWindow))
	}
	if p.ReprocessInterval < p.CooldownWindow {
		return goerr.New("reprocess_interval must not be shorter than cooldown_window",
			goerr.V("reprocess_interval", p.ReprocessInterval),
			goerr.V("cooldown_window", p.CooldownWindow))
	}
	if p.Workers <= 0 {
		return goerr.New("workers must be positive", goerr.V("value", p.Workers))
	}
	if p.QueueCapacity <= 0 {
		return goerr.New("queue_capacity must be positive", goerr.V("value", p.QueueCapacity))
	}
	if p.MaxAttempts <= 0 {
		return goerr.New("max_attempts must be positive", goerr.V("value", p.MaxAttempts))
	}
	if p.RetryBaseDelay <= 0 || p.RetryMaxDelay < p.RetryBaseDelay {
		return goerr.New("retry delays are inconsistent",
			goerr.V("base", p.RetryBaseDelay),
			goerr.V("max", p.RetryMaxDelay))
	}
	if p.StageTimeout <= 0 {
		return goerr.New("stage_timeout must be positive", goerr.V("value", p.StageTimeout))
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return goerr.New("similarity_threshold must be within [0, 1]", goerr.V("value", p.SimilarityThreshold))
	}
	if p.CandidateLimit <= 0 {
		return goerr.New("candidate_limit must be positive", goerr.V("value", p.CandidateLimit))
	}
	if p.DocumentMaxBytes <= 0 {
		return goerr.New("document_max_bytes must be positive", goerr.V("value", p.DocumentMaxBytes))
	}
	if p.BacklogInterval <= 0 {
		return goerr.New("backlog_interval must be positive", goerr.V("value", p.BacklogInterval))
	}
	return nil
}

// policyFile is the TOML schema of a policy file. Durations are written as
// strings in time.ParseDuration format ("10m", "168h").
type policyFile struct {
	CooldownWindow      string  `toml:"cooldown_window"`
	ReprocessInterval   string  `toml:"reprocess_interval"`
	Workers             int     `toml:"workers"`
	QueueCapacity       int     `toml:"queue_capacity"`
	MaxAttempts         int     `toml:"max_attempts"`
	RetryBaseDelay      string  `toml:"retry_base_delay"`
	RetryMaxDelay       string  `toml:"retry_max_delay"`
	StageTimeout        string  `toml:"stage_timeout"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	CandidateLimit      int     `toml:"candidate_limit"`
	DocumentMaxBytes    int     `toml:"document_max_bytes"`
	BacklogInterval     string  `toml:"backlog_interval"`
}

func applyDuration(dst *time.Duration, value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("field", field), goerr.V("value", value))
	}
	*dst = d
	return nil
}

// LoadPolicy reads a TOML policy file over the default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, goerr.Wrap(err, "failed to read policy file", goerr.V("path", path))
	}
	var file policyFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return policy, goerr.Wrap(err, "failed to parse policy file", goerr.V("path", path))
	}

	if err := applyDuration(&policy.CooldownWindow, file.CooldownWindow, "cooldown_window"); err != nil {
		return policy, err
	}
	if err := applyDuration(&policy.ReprocessInterval, file.ReprocessInterval, "reprocess_interval"); err != nil {
		return policy, err
	}
	if err := applyDuration(&policy.RetryBaseDelay, file.RetryBaseDelay, "retry_base_delay"); err != nil {
		return policy, err
	}
	if err := applyDuration(&policy.RetryMaxDelay, file.RetryMaxDelay, "retry_max_delay"); err != nil {
		return policy, err
	}
	if err := applyDuration(&policy.StageTimeout, file.StageTimeout, "stage_timeout"); err != nil {
		return policy, err
	}
	if err := applyDuration(&policy.BacklogInterval, file.BacklogInterval, "backlog_interval"); err != nil {
		return policy, err
	}
	if file.Workers > 0 {
		policy.Workers = file.Workers
	}
	if file.QueueCapacity > 0 {
		policy.QueueCapacity = file.QueueCapacity
	}
	if file.MaxAttempts > 0 {
		policy.MaxAttempts = file.MaxAttempts
	}
	if file.SimilarityThreshold > 0 {
		policy.SimilarityThreshold = file.SimilarityThreshold
	}
	if file.CandidateLimit > 0 {
		policy.CandidateLimit = file.CandidateLimit
	}
	if file.DocumentMaxBytes > 0 {
		policy.DocumentMaxBytes = file.DocumentMaxBytes
	}

	if err := policy.Validate(); err != nil {
		return policy, goerr.Wrap(err, "invalid policy file", goerr.V("path", path))
	}
	return policy, nil
}
