// Package httpclient is the shared outbound HTTP layer for upstream
// services. Every provider call (language model, image generation, remote
// speech synthesis, image downloads) goes through a Client, which layers a
// circuit breaker, optional retries with exponential backoff, transparent
// response decompression, a decompressed-size cap and credential-obfuscated
// logging over the standard http.Client. Clients are registered by name so
// the health endpoint can report per-upstream breaker state.
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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrMaxRetries wraps the last failure once every attempt is spent.
	ErrMaxRetries = errors.New("max retries exceeded")
	// ErrResponseTooLarge is returned by the body reader when the
	// decompressed response passes MaxResponseSize.
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 0
	DefaultRetryDelay         = 1 * time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultMaxResponseSize    = 0 // unlimited
	DefaultUserAgentHeader    = "storyloom-httpclient/1.0"

	acceptEncodings = "gzip, deflate, br"
)

// Config controls one client's resilience behavior.
type Config struct {
	// Timeout bounds each whole request.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	// Zero disables retries; callers with their own attempt semantics
	// (image generation, local speech synthesis) keep it at zero.
	RetryAttempts int
	// RetryDelay is the wait before the first retry; each further retry
	// multiplies it by BackoffMultiplier up to RetryMaxDelay.
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold failures open the breaker; it stays open for
	// CircuitTimeout, then admits up to CircuitHalfOpenMax probes.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	// MaxResponseSize caps the decompressed body in bytes; zero means
	// unlimited. Applied after decompression so a small compressed
	// payload cannot expand past the cap.
	MaxResponseSize int64

	// UserAgent is sent when the request carries none.
	UserAgent string

	Logger *slog.Logger

	// EnableDecompression advertises and transparently unwraps gzip,
	// deflate and brotli bodies.
	EnableDecompression bool

	// BaseClient overrides the underlying http.Client.
	BaseClient *http.Client
}

// DefaultConfig returns the baseline configuration.
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
		MaxResponseSize:     DefaultMaxResponseSize,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is the resilient HTTP client.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client from the config.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Get issues a GET through Do.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Do executes the request with breaker protection and configured retries.
// 429/502/503/504 responses and transport errors are retried; other status
// codes are handed back to the caller, counting against the breaker when
// not 2xx.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodings)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"delay", delay,
				"url", obfuscateURL(req.URL),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping request",
				"url", obfuscateURL(req.URL),
				"state", c.breaker.State().String(),
			)
			continue
		}

		resp, retry, err := c.attempt(req, attempt)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if retry {
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}
		return c.wrapBody(resp), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// attempt runs one round trip and records the outcome on the breaker.
func (c *Client) attempt(req *http.Request, attempt int) (resp *http.Response, retry bool, err error) {
	start := time.Now()
	resp, err = c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("request failed",
			"url", obfuscateURL(req.URL),
			"method", req.Method,
			"duration", elapsed,
			"error", err,
			"attempt", attempt,
		)
		return nil, false, err
	}

	if isRetryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure()
		c.logger.Warn("retryable status code",
			"url", obfuscateURL(req.URL),
			"method", req.Method,
			"status", resp.StatusCode,
			"duration", elapsed,
			"attempt", attempt,
		)
		return resp, true, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.breaker.RecordSuccess()
	} else {
		c.breaker.RecordFailure()
	}
	c.logger.Debug("request completed",
		"url", obfuscateURL(req.URL),
		"method", req.Method,
		"status", resp.StatusCode,
		"duration", elapsed,
		"content_length", resp.ContentLength,
	)
	return resp, false, nil
}

// wrapBody layers decompression and the size cap over the response body.
func (c *Client) wrapBody(resp *http.Response) *http.Response {
	if c.config.EnableDecompression {
		resp.Body = c.decompressed(resp)
	}
	if c.config.MaxResponseSize > 0 {
		resp.Body = &cappedBody{body: resp.Body, remaining: c.config.MaxResponseSize}
	}
	return resp
}

// CircuitState reports the breaker state for health output.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

func (c *Client) decompressed(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "":
		return resp.Body
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body", "error", err)
			return resp.Body
		}
		return &decodedBody{r: zr, raw: resp.Body}
	case "deflate":
		return &decodedBody{r: flate.NewReader(resp.Body), raw: resp.Body}
	case "br":
		return &decodedBody{r: brotli.NewReader(resp.Body), raw: resp.Body}
	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			"encoding", resp.Header.Get("Content-Encoding"))
		return resp.Body
	}
}

// decodedBody reads through a decompressor while closing the raw body.
type decodedBody struct {
	r   io.Reader
	raw io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *decodedBody) Close() error {
	if closer, ok := d.r.(io.Closer); ok {
		closer.Close()
	}
	return d.raw.Close()
}

// cappedBody enforces MaxResponseSize on the decompressed stream.
type cappedBody struct {
	body      io.ReadCloser
	remaining int64
	tripped   bool
}

func (c *cappedBody) Read(p []byte) (int, error) {
	if c.tripped {
		return 0, ErrResponseTooLarge
	}
	n, err := c.body.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.tripped = true
		return n, ErrResponseTooLarge
	}
	return n, err
}

func (c *cappedBody) Close() error { return c.body.Close() }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

var sensitiveQueryParams = map[string]struct{}{
	"password": {}, "passwd": {}, "pass": {}, "pwd": {},
	"token": {}, "api_key": {}, "apikey": {}, "key": {},
	"secret": {}, "auth": {}, "authorization": {},
	"credential": {}, "credentials": {},
}

// obfuscateURL masks credential-bearing query parameters for log lines.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	masked := *u
	query := masked.Query()
	for param := range query {
		if _, ok := sensitiveQueryParams[strings.ToLower(param)]; ok {
			query.Set(param, "***")
		}
	}
	masked.RawQuery = query.Encode()
	return masked.String()
}

// CircuitState is a breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker trips after a threshold of consecutive failures, rejects
// requests while open, then admits a bounded number of half-open probes
// after the timeout. One probe success closes it again.
type CircuitBreaker struct {
	mu          sync.RWMutex
	state       CircuitState
	failures    int
	threshold   int
	timeout     time.Duration
	halfOpenMax int
	halfOpen    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		state:       CircuitClosed,
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
	}
}

// Allow reports whether a request may proceed, transitioning open to
// half-open once the timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) < cb.timeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.halfOpen = 1
		return true
	case CircuitHalfOpen:
		if cb.halfOpen >= cb.halfOpenMax {
			return false
		}
		cb.halfOpen++
		return true
	}
	return false
}

// RecordSuccess notes a 2xx outcome; a half-open success closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.failures = 0
	}
}

// RecordFailure notes a failed outcome, opening the breaker at the
// threshold or on any half-open failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.halfOpen = 0
}

// Failures returns the running failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}
