package content

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "argos/1.0"

// Config configures the HTTP fetcher.
type Config struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int           // Max extracted text size. Default: 256KB.
	UserAgent string
	// RequestsPerHost limits outbound requests per host per second.
	// Default: 1.
	RequestsPerHost float64
	// Burst is the per-host limiter burst. Default: 2.
	Burst int
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RequestsPerHost <= 0 {
		c.RequestsPerHost = 1
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
}

// httpFetcher retrieves pages over HTTP and extracts readable text. A
// per-host token bucket keeps the crawler polite regardless of worker
// concurrency.
type httpFetcher struct {
	client *http.Client
	config Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Fetcher = &httpFetcher{}

// NewFetcher creates the HTTP content adapter.
func NewFetcher(cfg Config) Fetcher {
	cfg.defaults()
	return &httpFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return goerr.New("too many redirects", goerr.V("count", len(via)))
				}
				return nil
			},
		},
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *httpFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.config.RequestsPerHost), f.config.Burst)
		f.limiters[host] = limiter
	}
	return limiter
}

func (f *httpFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, goerr.Wrap(err, "unparsable URL", goerr.V("url", rawURL))
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "rate limit wait cancelled", goerr.V("host", u.Host))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request", goerr.V("url", rawURL))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "http get failed", goerr.V("url", rawURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, goerr.New("unexpected http status",
			goerr.V("url", rawURL),
			goerr.V("status", resp.StatusCode))
	}

	// Read more than the text cap: HTML boilerplate compresses heavily
	// during extraction.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.config.MaxBytes)*8))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read body", goerr.V("url", rawURL))
	}

	contentType := resp.Header.Get("Content-Type")
	fetchedAt := time.Now().UTC()

	var result *Result
	switch {
	case strings.Contains(contentType, "text/html"), contentType == "":
		result, err = extractHTML(body, rawURL)
		if err != nil {
			return nil, err
		}
	case strings.Contains(contentType, "text/plain"):
		result = &Result{
			Text:             string(body),
			ExtractionMethod: "text-plain",
		}
	default:
		return nil, goerr.New("unsupported content type",
			goerr.V("url", rawURL),
			goerr.V("content_type", contentType))
	}

	if len(result.Text) > f.config.MaxBytes {
		result.Text = truncateUTF8(result.Text, f.config.MaxBytes)
		result.Truncated = true
	}
	result.FetchedAt = fetchedAt
	return result, nil
}

// truncateUTF8 cuts s at limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
