package config_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/argos/pkg/cli/config"
)

func TestRepository_Configure(t *testing.T) {
	t.Run("memory backend needs no project", func(t *testing.T) {
		cfg := config.NewRepositoryForTest("memory", "", "", "")
		repo, err := cfg.Configure(t.Context())
		gt.NoError(t, err).Required()
		gt.Value(t, repo).NotNil()
		gt.NoError(t, repo.Close())
	})

	t.Run("firestore backend requires a project ID", func(t *testing.T) {
		cfg := config.NewRepositoryForTest("firestore", "", "", "")
		_, err := cfg.Configure(t.Context())
		gt.Error(t, err)
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		cfg := config.NewRepositoryForTest("sqlite", "", "", "")
		_, err := cfg.Configure(t.Context())
		gt.Error(t, err)
	})

	t.Run("returns flags", func(t *testing.T) {
		var cfg config.Repository
		gt.Value(t, len(cfg.Flags())).Equal(4)
	})
}
