// Package handlers provides the HTTP API handlers for ssbridge.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ssbridge/internal/fetch"
	"github.com/jmylchreest/ssbridge/internal/fragment"
	"github.com/jmylchreest/ssbridge/internal/observability"
)

// FragmentContentType is the media type of served fragments.
const FragmentContentType = "video/mp4"

// FragmentHandler fetches legacy fragments from an origin and serves them
// rewritten as fragmented MP4.
type FragmentHandler struct {
	fetcher     fetch.Fetcher
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewFragmentHandler creates a fragment handler on top of fetcher.
func NewFragmentHandler(fetcher fetch.Fetcher) *FragmentHandler {
	return &FragmentHandler{
		fetcher: fetcher,
		logger:  observability.WithComponent(slog.Default(), "fragments"),
	}
}

// WithRetry sets the attempt cap and first retry delay for origin fetches.
func (h *FragmentHandler) WithRetry(maxAttempts int, delay time.Duration) *FragmentHandler {
	h.maxAttempts = maxAttempts
	h.retryDelay = delay
	return h
}

// WithLogger sets the logger for the handler.
func (h *FragmentHandler) WithLogger(logger *slog.Logger) *FragmentHandler {
	if logger != nil {
		h.logger = observability.WithComponent(logger, "fragments")
	}
	return h
}

// Register registers the fragment routes with the API.
func (h *FragmentHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getFragment",
		Method:      http.MethodGet,
		Path:        "/fragments",
		Summary:     "Fetch and convert a fragment",
		Description: "Fetches a byte range from the origin and rewrites the legacy fragment so a fragmented MP4 demuxer accepts it.",
		Tags:        []string{"Fragments"},
	}, h.GetFragment)
}

// GetFragmentInput is the input for fragment conversion.
type GetFragmentInput struct {
	URL       string `query:"url" required:"true" doc:"Absolute URL of the resource holding the fragment"`
	Start     int64  `query:"start" default:"0" minimum:"0" doc:"First byte of the fragment"`
	End       int64  `query:"end" default:"-1" minimum:"-1" doc:"Last byte of the fragment, -1 for the rest of the resource"`
	Timestamp uint64 `query:"t" doc:"Base media decode time written into the fragment"`
	Encrypted bool   `query:"encrypted" doc:"Rewrite sample encryption data into senc/saiz/saio"`
}

// GetFragmentOutput is the converted fragment.
type GetFragmentOutput struct {
	ContentType string `header:"Content-Type"`
	Rewritten   string `header:"X-Fragment-Rewritten"`
	Body        []byte
}

// GetFragment fetches and rewrites a single fragment. Fragments that cannot be
// rewritten are served unchanged.
func (h *FragmentHandler) GetFragment(ctx context.Context, input *GetFragmentInput) (*GetFragmentOutput, error) {
	u, err := url.Parse(input.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, huma.Error400BadRequest("url must be an absolute http(s) URL")
	}
	if input.End >= 0 && input.End < input.Start {
		return nil, huma.Error400BadRequest(fmt.Sprintf("end %d before start %d", input.End, input.Start))
	}

	logger := h.logger
	if id := observability.RequestIDFromContext(ctx); id != "" {
		logger = observability.WithRequestID(logger, id)
	}

	data, err := h.fetcher.Fetch(ctx, fetch.Request{
		URL:            input.URL,
		Start:          input.Start,
		End:            input.End,
		MaxAttempts:    h.maxAttempts,
		BaseRetryDelay: h.retryDelay,
	})
	if err != nil {
		return nil, originError(err)
	}

	out, rewritten := fragment.Rewrite(data, fragment.Meta{
		BaseTimestamp: input.Timestamp,
		Encrypted:     input.Encrypted,
	})
	if !rewritten {
		logger.DebugContext(ctx, "fragment passed through unchanged",
			slog.String("url", input.URL),
			slog.Int("bytes", len(data)),
		)
	}

	return &GetFragmentOutput{
		ContentType: FragmentContentType,
		Rewritten:   strconv.FormatBool(rewritten),
		Body:        out,
	}, nil
}

// originError maps a fetch failure to an API error. Origin client errors keep
// their status, everything else is a bad gateway.
func originError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout("origin request did not complete", err)
	}
	switch code := fetch.StatusCode(err); {
	case code == http.StatusNotFound:
		return huma.Error404NotFound("fragment not found at origin", err)
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return huma.Error403Forbidden("origin refused the request", err)
	case code == http.StatusRequestedRangeNotSatisfiable:
		return huma.NewError(http.StatusRequestedRangeNotSatisfiable, "range not satisfiable at origin", err)
	default:
		return huma.Error502BadGateway("origin fetch failed", err)
	}
}
