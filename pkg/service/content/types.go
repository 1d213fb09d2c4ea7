package content

import (
	"context"
	"time"
)

// Result contains the outcome of a fetch: extracted text ready for
// summarization.
type Result struct {
	Title            string
	Text             string
	ExtractionMethod string
	Truncated        bool
	FetchedAt        time.Time
}

// Fetcher is the content capability adapter: it retrieves a URL and
// extracts readable text. Pure request/response; no state.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}
