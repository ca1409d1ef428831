// Package fetch retrieves byte ranges of media resources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/ssbridge/internal/observability"
	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

// Request is a single byte-range retrieval.
type Request struct {
	URL string
	// Start is the first byte, End the last byte (inclusive). End < 0 means
	// the rest of the resource.
	Start int64
	End   int64
	// MaxAttempts caps the number of attempts, first one included.
	MaxAttempts int
	// BaseRetryDelay is the delay before the first retry.
	BaseRetryDelay time.Duration
}

// WholeResource reports whether the request covers the entire resource.
func (r Request) WholeResource() bool {
	return r.Start <= 0 && r.End < 0
}

// RangeHeader returns the Range header value for the request.
func (r Request) RangeHeader() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Fetcher retrieves byte ranges. Cancelling ctx aborts the request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// HTTPFetcher fetches over HTTP using the resilient client.
type HTTPFetcher struct {
	client *httpclient.Client
	logger *slog.Logger
}

// NewHTTPFetcher creates a fetcher on top of client.
func NewHTTPFetcher(client *httpclient.Client, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client: client,
		logger: observability.WithComponent(logger, "fetch"),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if !req.WholeResource() {
		httpReq.Header.Set(httpclient.HeaderRange, req.RangeHeader())
	}

	if req.MaxAttempts > 0 {
		ctx = httpclient.WithRetryPolicy(ctx, httpclient.RetryPolicy{
			MaxAttempts: req.MaxAttempts,
			Delay:       req.BaseRetryDelay,
		})
	}

	start := time.Now()
	resp, err := f.client.DoWithContext(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.URL, err)
	}

	// A server ignoring Range answers 200 with the whole resource.
	if resp.StatusCode == http.StatusOK && !req.WholeResource() {
		body = slice(body, req.Start, req.End)
	}

	f.logger.DebugContext(ctx, "fetched range",
		slog.String("url", req.URL),
		slog.String("range", req.RangeHeader()),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)),
	)
	return body, nil
}

func slice(body []byte, start, end int64) []byte {
	n := int64(len(body))
	if start >= n {
		return nil
	}
	if end < 0 || end >= n {
		end = n - 1
	}
	return body[start : end+1]
}
