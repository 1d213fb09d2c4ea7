package model

import "time"

// Document is the fetched and extracted content for one Visit revision.
// Re-fetching the same revision supersedes the stored document rather than
// duplicating it.
type Document struct {
	Revision         RevisionID
	Fingerprint      Fingerprint
	URL              string
	Title            string
	Text             string // extracted text, size-capped
	ExtractionMethod string
	Truncated        bool
	FetchedAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Summary is the LLM-produced condensation of a Document.
type Summary struct {
	Revision  RevisionID
	Text      string
	Concepts  []string // ordered, as extracted
	CreatedAt time.Time
	UpdatedAt time.Time
}
