// Package schedapi talks to the university schedule source: a resilient HTTP
// fetcher plus a typed client that maps source payloads into domain raw types.
package schedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/unischedule/schedule-sync/pkg/circuitbreaker"
	"github.com/unischedule/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// FetcherConfig contains configuration for the source fetcher.
type FetcherConfig struct {
	// BaseURL is the schedule source base URL
	BaseURL string

	// Timeout is the per-attempt HTTP timeout
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles on each retry
	BaseDelay time.Duration

	// RateLimit is the request rate (req/s). 0 disables pacing.
	RateLimit float64

	// RateBurst is the token bucket size
	RateBurst int

	// BreakerThreshold is the number of consecutive exhausted failures that
	// open the circuit. 0 disables the breaker.
	BreakerThreshold int

	// BreakerCooldown is how long the circuit stays open
	BreakerCooldown time.Duration

	// UserAgent header value
	UserAgent string

	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper

	// Sleep overrides the wait between retries (tests)
	Sleep retry.SleepFunc

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultFetcherConfig returns sensible defaults.
func DefaultFetcherConfig(baseURL string) FetcherConfig {
	return FetcherConfig{
		BaseURL:          baseURL,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		BaseDelay:        time.Second,
		RateLimit:        5,
		RateBurst:        5,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
		UserAgent:        "schedule-sync/1.0",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCHER
// ══════════════════════════════════════════════════════════════════════════════

// Body is a decoded response. At most one of JSON and Text is set; both are
// empty for 204 No Content.
type Body struct {
	StatusCode int
	JSON       json.RawMessage
	Text       string
}

// IsEmpty reports a body without content.
func (b Body) IsEmpty() bool {
	return len(b.JSON) == 0 && b.Text == ""
}

// IsJSON reports a structurally decoded body.
func (b Body) IsJSON() bool {
	return len(b.JSON) > 0
}

// Decode unmarshals the JSON body into v.
func (b Body) Decode(v any) error {
	if !b.IsJSON() {
		return fmt.Errorf("%w: body is not json", ErrUnexpectedPayload)
	}
	if err := json.Unmarshal(b.JSON, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	return nil
}

// Fetcher performs HTTP requests against the source with pacing, retries and
// a circuit breaker. Safe for concurrent use.
type Fetcher struct {
	config     FetcherConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	closed     atomic.Bool
}

// NewFetcher creates a fetcher. It owns one http.Client for its lifetime.
func NewFetcher(config FetcherConfig) *Fetcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	f := &Fetcher{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger: config.Logger,
	}

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	if config.BreakerThreshold > 0 {
		f.breaker = circuitbreaker.SourceAPIBreaker(
			config.BreakerThreshold,
			config.BreakerCooldown,
			func(name string, from, to circuitbreaker.State) {
				f.logger.Warn("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			circuitbreaker.WithIsFailure(func(err error) bool {
				var apiErr *APIError
				return !errors.As(err, &apiErr)
			}),
		)
	}

	maxAttempts := config.MaxRetries + 1
	opts := []retry.Option{
		retry.WithRetryIf(isTransient),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			f.logger.Warn("request failed, retrying",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", delay,
				"error", err,
			)
		}),
	}
	if config.Sleep != nil {
		opts = append(opts, retry.WithSleep(config.Sleep))
	}
	f.retrier = retry.SourceAPIRetrier(config.MaxRetries, config.BaseDelay, opts...)

	return f
}

// Do sends one logical request (with retries) and decodes the response.
//
// Errors: *APIError for HTTP >= 400 (not retried); *TimeoutError or
// *NetworkError after the retry budget; *NetworkError wrapping
// circuitbreaker.ErrCircuitOpen while the breaker is open; ErrFetcherClosed
// after Close; the context error if ctx ends first.
func (f *Fetcher) Do(ctx context.Context, method, path string, params url.Values, body any) (Body, error) {
	if f.closed.Load() {
		return Body{}, ErrFetcherClosed
	}

	if f.breaker == nil {
		return f.doWithRetry(ctx, method, path, params, body)
	}

	var out Body
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.doWithRetry(ctx, method, path, params, body)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return Body{}, &NetworkError{Err: err}
	}
	return out, err
}

// Get is a shortcut for Do with GET and no body.
func (f *Fetcher) Get(ctx context.Context, path string, params url.Values) (Body, error) {
	return f.Do(ctx, http.MethodGet, path, params, nil)
}

// Close releases idle connections. Subsequent calls fail with ErrFetcherClosed.
func (f *Fetcher) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.httpClient.CloseIdleConnections()
	return nil
}

// Breaker exposes the circuit breaker for health reporting; nil when disabled.
func (f *Fetcher) Breaker() *circuitbreaker.CircuitBreaker {
	return f.breaker
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (f *Fetcher) doWithRetry(ctx context.Context, method, path string, params url.Values, body any) (Body, error) {
	var (
		out      Body
		attempts int
	)

	err := f.retrier.Do(ctx, func(ctx context.Context) error {
		if f.closed.Load() {
			return retry.Permanent(ErrFetcherClosed)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}

		attempts++
		b, err := f.doSingleRequest(ctx, method, path, params, body)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err == nil {
		return out, nil
	}

	var te *transportError
	if !errors.As(err, &te) {
		return Body{}, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Body{}, fmt.Errorf("%s %s: %w", method, path, ctxErr)
	}

	f.logger.Error("request failed after all attempts",
		"method", method,
		"path", path,
		"attempts", attempts,
		"error", te.err,
	)
	if te.timeout {
		return Body{}, &TimeoutError{Attempts: attempts, Err: te.err}
	}
	return Body{}, &NetworkError{Attempts: attempts, Err: te.err}
}

// doSingleRequest performs a single HTTP request.
func (f *Fetcher) doSingleRequest(ctx context.Context, method, path string, params url.Values, body any) (Body, error) {
	fullURL := f.buildURL(path, params)

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return Body{}, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return Body{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	f.logger.Debug("schedule api request", "method", method, "url", fullURL)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Body{}, &transportError{err: err, timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Body{}, &transportError{err: fmt.Errorf("read response: %w", err), timeout: isTimeout(err)}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
		f.logger.Error("api request failed",
			"status", resp.StatusCode,
			"message", apiErr.Message,
			"url", fullURL,
		)
		return Body{}, apiErr
	}

	if resp.StatusCode == http.StatusNoContent {
		return Body{StatusCode: resp.StatusCode}, nil
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if !json.Valid(respBody) {
			return Body{}, fmt.Errorf("%s %s: %w", method, path, ErrMalformedJSON)
		}
		return Body{StatusCode: resp.StatusCode, JSON: json.RawMessage(respBody)}, nil
	}

	return Body{StatusCode: resp.StatusCode, Text: string(respBody)}, nil
}

func (f *Fetcher) buildURL(path string, params url.Values) string {
	u := f.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

// isTransient: только сбои транспорта, и только пока жив контекст вызова.
func isTransient(err error) bool {
	var te *transportError
	if !errors.As(err, &te) {
		return false
	}
	return !errors.Is(te.err, context.Canceled)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const maxErrorMessage = 512

func errorMessage(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(status)
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
