package config

import "time"

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, projectID, databaseID, collectionPrefix string) *Repository {
	return &Repository{
		backend:          backend,
		projectID:        projectID,
		databaseID:       databaseID,
		collectionPrefix: collectionPrefix,
	}
}

// NewPipelinePolicyForTest creates a PipelinePolicy config for testing purposes
func NewPipelinePolicyForTest(path string, workers, queueCapacity int, cooldownWindow time.Duration) *PipelinePolicy {
	return &PipelinePolicy{
		path:           path,
		workers:        workers,
		queueCapacity:  queueCapacity,
		cooldownWindow: cooldownWindow,
	}
}
