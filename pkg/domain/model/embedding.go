package model

import "time"

// EmbeddingDimension is the dimension of the embedding vector.
// Gemini text-embedding-004 uses 768 dimensions.
const EmbeddingDimension = 768

// Embedding is a fixed-length vector attached to one Visit revision.
// Vectors from different model versions are never compared.
type Embedding struct {
	Revision     RevisionID
	Fingerprint  Fingerprint
	URL          string
	Vector       []float32
	ModelVersion string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SearchHit is one result of a vector similarity search.
type SearchHit struct {
	Revision     RevisionID
	Fingerprint  Fingerprint
	URL          string
	ModelVersion string
}
