// Package httpclient provides a resilient HTTP client with circuit breaker,
// automatic retries, transparent decompression, and structured logging.
//
// The client wraps the standard http.Client and adds:
//   - Circuit breaker to stop hammering an origin that keeps failing
//   - Automatic retries with exponential backoff, overridable per request
//   - Transparent decompression (gzip, deflate, brotli)
//   - A response size cap applied after decompression
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

// Default configuration values.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultCircuitThreshold     = 5
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultBackoffMultiplier    = 2.0
	DefaultMaxResponseSize      = 0 // 0 means no limit
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "ssbridge-httpclient/1.0"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderRange           = "Range"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the maximum delay between retries.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// CircuitThreshold is the number of consecutive failures before the circuit opens.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open before probing again.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax is the max requests allowed in half-open state.
	CircuitHalfOpenMax int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// EnableDecompression enables automatic response decompression.
	EnableDecompression bool

	// MaxResponseSize caps the decompressed body size in bytes. 0 disables the cap.
	MaxResponseSize int64

	// AcceptableStatusCodes are the codes recorded as successes by the circuit
	// breaker. If empty, all 2xx codes are acceptable. Retryable codes
	// (429, 502, 503, 504) are always retried first.
	AcceptableStatusCodes *StatusCodeSet

	// BaseClient is the underlying http.Client to use.
	// If nil, a default client is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
		MaxResponseSize:     DefaultMaxResponseSize,
	}
}

// RetryPolicy overrides the client's retry settings for a single request.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// Delay is the delay before the first retry.
	Delay time.Duration
}

type retryPolicyKey struct{}

// WithRetryPolicy returns a context carrying a per-request retry policy.
func WithRetryPolicy(ctx context.Context, p RetryPolicy) context.Context {
	return context.WithValue(ctx, retryPolicyKey{}, p)
}

func retryPolicyFrom(ctx context.Context) (RetryPolicy, bool) {
	p, ok := ctx.Value(retryPolicyKey{}).(RetryPolicy)
	return p, ok
}

// Client is a resilient HTTP client with circuit breaker and retry support.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a new resilient HTTP client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a new client with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes an HTTP request with circuit breaker protection and automatic retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context.
//
// Responses with a retryable status are retried. When the last attempt still
// gets one, that response is returned rather than an error so the caller can
// act on the status.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	b := c.backoffFor(ctx)
	logger := c.logger.With(slog.String("url", req.URL.String()), slog.String("method", req.Method))

	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying request", slog.Int("attempt", attempt), slog.Duration("delay", b.delay))
			if err := b.wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, req, logger.With(slog.Int("attempt", attempt)))
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil:
			lastErr = err
		case isRetryableStatus(resp.StatusCode) && attempt < b.retries:
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
		default:
			return c.wrapBody(resp), nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// attempt sends req once through the circuit breaker and records the outcome.
func (c *Client) attempt(ctx context.Context, req *http.Request, logger *slog.Logger) (*http.Response, error) {
	if !c.breaker.Allow() {
		logger.Warn("circuit breaker open, skipping request", slog.String("state", c.breaker.State().String()))
		return nil, ErrCircuitOpen
	}

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure()
		logger.Warn("request failed", slog.Duration("duration", duration), slog.String("error", err.Error()))
		return nil, err
	}

	switch {
	case isRetryableStatus(resp.StatusCode):
		c.breaker.RecordFailure()
		logger.Warn("retryable status code", slog.Int("status", resp.StatusCode), slog.Duration("duration", duration))
		return resp, nil
	case c.isAcceptableStatus(resp.StatusCode):
		c.breaker.RecordSuccess()
	default:
		c.breaker.RecordFailure()
	}
	logger.Debug("request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration),
		slog.Int64("content_length", resp.ContentLength),
	)
	return resp, nil
}

// backoff is the retry schedule of one request.
type backoff struct {
	retries    int
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64
}

// backoffFor returns the client schedule, or the per-request policy carried
// by ctx.
func (c *Client) backoffFor(ctx context.Context) *backoff {
	b := &backoff{
		retries:    c.config.RetryAttempts,
		delay:      c.config.RetryDelay,
		maxDelay:   c.config.RetryMaxDelay,
		multiplier: c.config.BackoffMultiplier,
	}
	if p, ok := retryPolicyFrom(ctx); ok {
		b.retries = max(p.MaxAttempts-1, 0)
		b.delay = p.Delay
	}
	return b
}

// wait sleeps for the current delay and grows it for the next retry.
func (b *backoff) wait(ctx context.Context) error {
	timer := time.NewTimer(b.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	b.delay = time.Duration(float64(b.delay) * b.multiplier)
	if b.maxDelay > 0 && b.delay > b.maxDelay {
		b.delay = b.maxDelay
	}
	return nil
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit resets the circuit breaker to closed state.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// wrapBody applies decompression and then the size cap, so the cap bounds
// the decompressed stream.
func (c *Client) wrapBody(resp *http.Response) *http.Response {
	if c.config.EnableDecompression {
		resp.Body = c.wrapDecompression(resp)
	}
	if c.config.MaxResponseSize > 0 {
		resp.Body = newLimitedReader(resp.Body, c.config.MaxResponseSize)
	}
	return resp
}

// decoders maps a Content-Encoding to its decompressing reader.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	EncodingGzip:    func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	EncodingDeflate: func(r io.Reader) (io.Reader, error) { return flate.NewReader(r), nil },
	EncodingBrotli:  func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
}

func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))
	if encoding == "" || encoding == "identity" {
		return resp.Body
	}

	decode, ok := decoders[encoding]
	if !ok {
		c.logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", encoding))
		return resp.Body
	}
	reader, err := decode(resp.Body)
	if err != nil {
		c.logger.Warn("failed to create decompressor, returning raw body",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()),
		)
		return resp.Body
	}

	// The length and encoding now describe the compressed stream.
	resp.Header.Del(HeaderContentEncoding)
	resp.ContentLength = -1
	return &decompressReader{reader: reader, closer: resp.Body}
}

// decompressReader pairs a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// limitedReader fails with ErrResponseTooLarge once more than the limit was read.
type limitedReader struct {
	reader    io.ReadCloser
	remaining int64
	exceeded  bool
}

func newLimitedReader(r io.ReadCloser, limit int64) *limitedReader {
	return &limitedReader{reader: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrResponseTooLarge
	}

	n, err := l.reader.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrResponseTooLarge
	}
	return n, err
}

func (l *limitedReader) Close() error {
	return l.reader.Close()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (c *Client) isAcceptableStatus(code int) bool {
	if !c.config.AcceptableStatusCodes.IsEmpty() {
		return c.config.AcceptableStatusCodes.Contains(code)
	}
	return code >= 200 && code < 300
}
