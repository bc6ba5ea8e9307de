// Package client talks to the OpenAQ v3 REST API. Every outbound attempt
// passes through the injected rate limiter and a circuit breaker; transient
// failures are retried with exponential backoff and paginated endpoints are
// followed until exhausted or bounded.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// DefaultBaseURL is the public OpenAQ v3 endpoint.
const DefaultBaseURL = "https://api.openaq.org/v3"

const (
	userAgent    = "airquality-dashboard/1.0"
	maxBodyBytes = 32 << 20
)

var (
	errServerError = errors.New("upstream server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// Limiter gates outbound requests. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config carries the client settings. Zero values fall back to defaults.
type Config struct {
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetryAfter  time.Duration
	PageLimit      int
	MaxPages       int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = time.Minute
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
}

// BreakerSettings configures the circuit breaker around upstream calls.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive transient failures that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before allowing trial requests.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32
}

// Request is one logical query. Params exclude page and limit, which the
// client manages. MaxRecords > 0 stops pagination once that many results
// are collected and truncates the result.
type Request struct {
	Endpoint   string
	Params     url.Values
	MaxRecords int
}

// OpenAQClient fetches raw result records from OpenAQ.
type OpenAQClient struct {
	cfg     Config
	limiter Limiter
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
	now     func() time.Time
	outcome OutcomeRecorder
}

// Option customizes an OpenAQClient.
type Option func(*OpenAQClient)

// WithHTTPClient replaces the default http.Client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAQClient) { c.http = hc }
}

// WithLogger sets the fallback logger used when ctx carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *OpenAQClient) { c.logger = logger }
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *OpenAQClient) { c.sleep = sleep }
}

// WithJitter replaces the [0,1) jitter source.
func WithJitter(jitter func() float64) Option {
	return func(c *OpenAQClient) { c.jitter = jitter }
}

// OutcomeRecorder observes the final result of every upstream call, after
// retries. A nil error is a success.
type OutcomeRecorder interface {
	Observe(err error)
}

// WithOutcomeRecorder reports call outcomes to r.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(c *OpenAQClient) { c.outcome = r }
}

// WithBreaker configures the circuit breaker.
func WithBreaker(s BreakerSettings) Option {
	return func(c *OpenAQClient) { c.breaker = newBreaker(s) }
}

// New creates an OpenAQClient. A missing API key or limiter is a
// configuration error, reported before any network activity.
func New(cfg Config, limiter Limiter, opts ...Option) (*OpenAQClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: OpenAQ API key is required (set OPENAQ_API_KEY)", aqerr.ErrConfig)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: rate limiter is required", aqerr.ErrConfig)
	}
	cfg.applyDefaults()
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", aqerr.ErrConfig, err)
	}

	c := &OpenAQClient{
		cfg:     cfg,
		limiter: limiter,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  zap.NewNop(),
		sleep:   sleepContext,
		jitter:  rand.Float64,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(BreakerSettings{})
	}
	return c, nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *OpenAQClient) BreakerState() string {
	return c.breaker.State().String()
}

// ValidateAPIKey issues a single minimal request and reports whether the key
// is accepted. It consumes one unit of quota.
func (c *OpenAQClient) ValidateAPIKey(ctx context.Context) error {
	_, err := c.Fetch(ctx, Request{Endpoint: "/parameters", MaxRecords: 1})
	return err
}

type envelope struct {
	Meta struct {
		Page  int             `json:"page"`
		Limit int             `json:"limit"`
		Found json.RawMessage `json:"found"`
	} `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

// found returns meta.found when it is an exact count. OpenAQ reports large
// totals as strings such as ">1000".
func (e envelope) found() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(e.Meta.Found)))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Fetch returns the concatenated results of every page of req, in receipt
// order. Pagination stops on a short or empty page, when meta.found is
// reached, at req.MaxRecords, or after the configured page bound.
func (c *OpenAQClient) Fetch(ctx context.Context, req Request) ([]json.RawMessage, error) {
	logger := observability.LoggerFrom(ctx, c.logger)
	limit := c.cfg.PageLimit
	if req.MaxRecords > 0 && req.MaxRecords < limit {
		limit = req.MaxRecords
	}
	label := endpointLabel(req.Endpoint)

	out := []json.RawMessage{}
	for page := 1; ; page++ {
		env, err := c.getPage(ctx, req, page, limit)
		if err != nil {
			return nil, err
		}
		observability.OpenAQPagesTotal.WithLabelValues(label).Inc()
		out = append(out, env.Results...)

		if req.MaxRecords > 0 && len(out) >= req.MaxRecords {
			return out[:req.MaxRecords], nil
		}
		if len(env.Results) < limit {
			break
		}
		if found, ok := env.found(); ok && len(out) >= found {
			break
		}
		if page >= c.cfg.MaxPages {
			logger.Warn("pagination bound reached", zap.String("endpoint", req.Endpoint), zap.Int("pages", page), zap.Int("records", len(out)))
			break
		}
	}
	logger.Debug("openaq fetch complete", zap.String("endpoint", req.Endpoint), zap.Int("records", len(out)))
	return out, nil
}

func (c *OpenAQClient) getPage(ctx context.Context, req Request, page, limit int) (envelope, error) {
	q := url.Values{}
	for k, v := range req.Params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.getWithRetry(ctx, req.Endpoint, q)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: decode %s envelope: %v", aqerr.ErrData, req.Endpoint, err)
	}
	if env.Results == nil {
		return envelope{}, fmt.Errorf("%w: %s envelope has no results array", aqerr.ErrData, req.Endpoint)
	}
	return env, nil
}

func (c *OpenAQClient) getWithRetry(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	logger := observability.LoggerFrom(ctx, c.logger)
	var (
		lastErr error
		hint    time.Duration
		prev    time.Duration
	)
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt-1, hint, prev)
			prev = delay
			observability.OpenAQRetriesTotal.Inc()
			logger.Debug("retrying openaq request",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, callerGone(ctx, endpoint, err)
			}
		}

		if c.breaker.State() == gobreaker.StateOpen {
			lastErr = fmt.Errorf("%w: %w", aqerr.ErrNetwork, errCircuitOpen)
			break
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, callerGone(ctx, endpoint, err)
			}
			if !errors.Is(err, aqerr.ErrRateLimited) {
				err = fmt.Errorf("%w: %w", aqerr.ErrNetwork, err)
			}
			c.observe(err)
			return nil, err
		}

		var body []byte
		body, hint, lastErr = c.attempt(ctx, endpoint, q)
		if lastErr == nil {
			c.observe(nil)
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, callerGone(ctx, endpoint, lastErr)
		}
		if !isRetryable(lastErr) {
			break
		}
	}
	observability.OpenAQErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	c.observe(lastErr)
	return nil, lastErr
}

// callerGone reports that the caller's own context ended. It is not an
// upstream failure: it is not retried, not recorded as an outcome and not
// wrapped as ErrNetwork.
func callerGone(ctx context.Context, endpoint string, cause error) error {
	if cause == nil || errors.Is(cause, ctx.Err()) {
		return fmt.Errorf("openaq %s: %w", endpoint, ctx.Err())
	}
	return fmt.Errorf("openaq %s: %w (%v)", endpoint, ctx.Err(), cause)
}

func (c *OpenAQClient) observe(err error) {
	if c.outcome != nil {
		c.outcome.Observe(err)
	}
}

// attempt runs one round trip through the breaker. Only transport failures
// and 5xx count against the breaker; auth, not-found and throttling responses
// pass through as breaker successes, as does a failure caused by the caller's
// own context ending.
func (c *OpenAQClient) attempt(ctx context.Context, endpoint string, q url.Values) ([]byte, time.Duration, error) {
	var (
		body        []byte
		hint        time.Duration
		passthrough error
	)
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var rtErr error
		body, hint, rtErr = c.roundTrip(ctx, endpoint, q)
		if rtErr != nil && (ctx.Err() != nil || !errors.Is(rtErr, aqerr.ErrNetwork)) {
			passthrough = rtErr
			return nil, nil
		}
		return nil, rtErr
	})
	if passthrough != nil {
		return nil, hint, passthrough
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, 0, fmt.Errorf("%w: %w", aqerr.ErrNetwork, errCircuitOpen)
	}
	return body, hint, err
}

func (c *OpenAQClient) roundTrip(ctx context.Context, endpoint string, q url.Values) ([]byte, time.Duration, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, q)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", aqerr.ErrConfig, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.OpenAQCallsTotal.WithLabelValues("error").Inc()
		observability.OpenAQDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, 0, fmt.Errorf("%w: GET %s: %w", aqerr.ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.OpenAQCallsTotal.WithLabelValues(status).Inc()
	observability.OpenAQDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := c.statusError(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, aqerr.RetryAfter(err), err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read %s body: %w", aqerr.ErrNetwork, endpoint, err)
	}
	return body, 0, nil
}

func (c *OpenAQClient) buildRequest(ctx context.Context, endpoint string, q url.Values) (*http.Request, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if id := observability.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}
	return req, nil
}

func (c *OpenAQClient) statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d (check OPENAQ_API_KEY)", aqerr.ErrAuth, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", aqerr.ErrNotFound, resp.Request.URL.Path)
	case code == http.StatusTooManyRequests:
		return &aqerr.RateLimitError{Scope: aqerr.ScopeRemote, RetryAfter: retryHint(resp.Header, c.now())}
	case code >= 500:
		return fmt.Errorf("%w: %w: HTTP %d", aqerr.ErrNetwork, errServerError, code)
	default:
		return fmt.Errorf("%w: unexpected HTTP %d", aqerr.ErrData, code)
	}
}

func isRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, errCircuitOpen):
		return false
	case errors.Is(err, aqerr.ErrRateLimited), errors.Is(err, aqerr.ErrNetwork):
		return true
	default:
		return false
	}
}

// endpointLabel replaces numeric path segments so metric labels stay bounded.
func endpointLabel(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i, p := range parts {
		if _, err := strconv.Atoi(p); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
