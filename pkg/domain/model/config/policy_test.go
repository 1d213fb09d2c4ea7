package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/argos/pkg/domain/model/config"
)

func writePolicyFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	gt.NoError(t, os.WriteFile(path, []byte(body), 0600)).Required()
	return path
}

func TestDefaultPolicy(t *testing.T) {
	policy := config.DefaultPolicy()
	gt.NoError(t, policy.Validate())
	gt.Value(t, policy.CooldownWindow).Equal(10 * time.Minute)
	gt.Value(t, policy.ReprocessInterval).Equal(7 * 24 * time.Hour)
	gt.Number(t, policy.Workers).Equal(4)
}

func TestLoadPolicy(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		path := writePolicyFile(t, `
cooldown_window = "5m"
reprocess_interval = "48h"
workers = 8
queue_capacity = 64
similarity_threshold = 0.9
`)
		policy, err := config.LoadPolicy(path)
		gt.NoError(t, err).Required()
		gt.Value(t, policy.CooldownWindow).Equal(5 * time.Minute)
		gt.Value(t, policy.ReprocessInterval).Equal(48 * time.Hour)
		gt.Number(t, policy.Workers).Equal(8)
		gt.Number(t, policy.QueueCapacity).Equal(64)
		gt.Number(t, policy.SimilarityThreshold).Equal(0.9)

		// untouched fields keep the defaults
		gt.Number(t, policy.MaxAttempts).Equal(config.DefaultPolicy().MaxAttempts)
		gt.Value(t, policy.StageTimeout).Equal(config.DefaultPolicy().StageTimeout)
	})

	t.Run("rejects malformed duration", func(t *testing.T) {
		path := writePolicyFile(t, `cooldown_window = "ten minutes"`)
		_, err := config.LoadPolicy(path)
		gt.Error(t, err)
	})

	t.Run("rejects inconsistent policy", func(t *testing.T) {
		path := writePolicyFile(t, `
cooldown_window = "24h"
reprocess_interval = "1h"
`)
		_, err := config.LoadPolicy(path)
		gt.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadPolicy(filepath.Join(t.TempDir(), "no-such.toml"))
		gt.Error(t, err)
	})
}

func TestPolicyValidate(t *testing.T) {
	t.Run("similarity threshold out of range", func(t *testing.T) {
		policy := config.DefaultPolicy()
		policy.SimilarityThreshold = 1.5
		gt.Error(t, policy.Validate())
	})

	t.Run("retry delays inverted", func(t *testing.T) {
		policy := config.DefaultPolicy()
		policy.RetryBaseDelay = time.Minute
		policy.RetryMaxDelay = time.Second
		gt.Error(t, policy.Validate())
	})

	t.Run("zero workers", func(t *testing.T) {
		policy := config.DefaultPolicy()
		policy.Workers = 0
		gt.Error(t, policy.Validate())
	})
}
