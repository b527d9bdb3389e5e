package devrev

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one API call. Path is relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Cacheable opts the request into conditional caching. Only honored for
	// GET requests.
	Cacheable bool
	// Idempotent marks a non-GET request safe to retry and deduplicate.
	Idempotent bool
}

// fingerprint identifies the request for caching and deduplication.
func (r *Request) fingerprint() string {
	return Fingerprint(r.Method, r.Path, r.Query)
}

// idempotent reports whether the request may be retried and coalesced.
func (r *Request) idempotent() bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return r.Idempotent
}

// Response is the decoded result of a completed request. Body is fully read;
// there is nothing to close.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the body was served from the conditional cache
	// after a 304 revalidation.
	FromCache bool
	// Attempts is how many network attempts the request took.
	Attempts int
}

// clone returns a deep copy so coalesced callers can mutate independently.
func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = append([]byte(nil), r.Body...)
	return &cp
}

// RoundTripper is the transport interface middleware wraps.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware wraps a single network attempt. It runs inside the retry loop,
// so a middleware sees every attempt, not just the first.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// Client is a resilient API client that layers connection pooling, retries,
// circuit breaking, rate-limit awareness, conditional caching and
// de-duplication around the standard net/http transport. It is safe for
// concurrent use.
type Client struct {
	config  Config
	baseURL *url.URL

	httpClient *http.Client
	slots      *connSlots

	policy         RetryPolicy
	retryBudget    *RetryBudget
	breakers       *BreakerRegistry
	breakerKeyFunc BreakerKeyFunc
	cache          Cache
	tracker        *RateLimitTracker
	limiter        *LocalRateLimiter
	dedup          *DedupTracker

	middleware []Middleware

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	userAgent string
}

// New constructs a Client from the default configuration and the provided
// options. Options are applied in order; later options win.
func New(options ...Option) (*Client, error) {
	c := &Client{
		config: DefaultConfig(),
		logger: nopLogger{},
		debug:  &DebugConfig{},
	}

	for _, option := range options {
		option(c)
	}

	// Config.Debug turns on full event logging unless an option already
	// selected specific categories.
	if c.config.Debug && !c.debug.anyEnabled() {
		c.debug = DefaultDebugConfig()
		if _, ok := c.logger.(nopLogger); ok {
			c.logger = NewConsoleLogger(nil)
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c.baseURL = baseURL

	if c.httpClient == nil {
		transport, err := newTransport(c.config.Pool, c.config.Timeouts)
		if err != nil {
			return nil, err
		}
		c.httpClient = &http.Client{Transport: transport}
	}

	// Slot waits share the pool phase timeout so there is a single knob.
	c.slots = newConnSlots(c.config.Pool.MaxConnections, c.config.Timeouts.Pool)

	if c.policy == nil {
		c.policy = NewDefaultRetryPolicy(
			c.config.MaxRetries,
			c.config.RetryBaseDelay,
			c.config.RetryMaxDelay,
			c.config.RetryJitter,
		)
	}

	if c.breakers == nil && c.config.BreakerEnabled {
		c.breakers = NewBreakerRegistry(c.config.Breaker, c.breakerKeyFunc)
	}

	if c.cache == nil && c.config.CacheEnabled {
		c.cache = NewConditionalCache(c.config.CacheMaxEntries)
	}

	c.tracker = NewRateLimitTracker()

	if c.limiter == nil && c.config.RateLimitPerSecond > 0 {
		c.limiter = NewLocalRateLimiter(c.config.RateLimitPerSecond, c.config.RateLimitBurst)
	}

	if c.dedup == nil && c.config.DedupEnabled {
		c.dedup = NewDedupTracker()
	}

	if c.userAgent == "" {
		if c.config.UserAgent != "" {
			c.userAgent = c.config.UserAgent
		} else {
			c.userAgent = "devrev-go/" + Version
		}
	}

	return c, nil
}

// NewFromEnv constructs a Client from DEVREV_* environment variables, then
// applies options on top.
func NewFromEnv(options ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(append([]Option{WithConfig(cfg)}, options...)...)
}

// Get performs a cacheable, idempotent GET against path.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Execute(ctx, &Request{
		Method:    http.MethodGet,
		Path:      path,
		Query:     query,
		Cacheable: true,
	})
}

// Post performs a POST with a JSON body. POSTs are not retried unless marked
// idempotent by the caller.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return c.Execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   path,
		Header: header,
		Body:   body,
	})
}

// Do applies the full reliability pipeline to a caller-prepared
// *http.Request. The body, if any, is read fully up front so attempts can be
// replayed. Relative URLs are resolved against the client's base URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	r := &Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
		Body:   body,
	}

	resp, err := c.Execute(req.Context(), r)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		StatusCode: resp.StatusCode,
		Status:     fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		Header:     resp.Header,
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
		Request:    req,
	}, nil
}

// HealthCheck probes the service health endpoint. When the circuit for the
// base host is open the probe is skipped and the breaker error is returned
// without touching the network.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/health",
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Reset forces every circuit breaker back to closed and clears any pending
// rate-limit hint. Intended for operator tooling and tests.
func (c *Client) Reset() {
	if c.breakers != nil {
		c.breakers.ResetAll()
	}
	c.tracker.Consume()
}

// Close releases idle transport connections. In-flight requests are allowed
// to finish; the client must not be reused after Close.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// ClearCache drops every stored conditional cache entry.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Execute runs one request through the full pipeline: deduplication, local
// rate limiting, circuit breaking, pooled attempts with retries, and
// conditional caching.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	endpoint := req.Path

	var requestID string
	if c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debug.LogRequests {
		c.logger.Debug("starting request", "requestID", requestID, "method", req.Method, "endpoint", endpoint)
	}
	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	if c.dedup != nil && req.idempotent() {
		key := dedupKey(req)
		entry, owner := c.dedup.getOrCreate(key)
		if !owner {
			resp, err := entry.wait(ctx)
			c.metrics.RecordDeduplicationHit(req.Method, endpoint)
			c.recordCompletion(req.Method, endpoint, resp, start)
			return resp, err
		}
		resp, err := c.execute(ctx, req, start, requestID)
		c.dedup.complete(key, resp, err)
		c.recordCompletion(req.Method, endpoint, resp, start)
		return resp, err
	}

	resp, err := c.execute(ctx, req, start, requestID)
	c.recordCompletion(req.Method, endpoint, resp, start)
	return resp, err
}

func (c *Client) recordCompletion(method, endpoint string, resp *Response, start time.Time) {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, time.Since(start))
}

func (c *Client) validateRequest(req *Request) error {
	if req == nil {
		return &ClientError{Type: ErrorTypeValidation, Message: "request is nil", Timestamp: time.Now()}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Path == "" || !strings.HasPrefix(req.Path, "/") {
		return &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("path must start with /, got %q", req.Path),
			Method:    req.Method,
			Endpoint:  req.Path,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// execute is the retry loop. One iteration per network attempt.
func (c *Client) execute(ctx context.Context, req *Request, start time.Time, requestID string) (*Response, error) {
	endpoint := req.Path

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// A pending hint from an earlier 429 applies to any request, not just
	// the one that observed it. Waiting here keeps the client from hammering
	// a throttling server from a fresh call path.
	if hint, ok := c.tracker.Consume(); ok {
		if wait := hint.Remaining(); wait > 0 {
			if c.debug.LogRateLimit {
				c.logger.Info("waiting out rate limit hint", "endpoint", endpoint, "wait", wait)
			}
			c.metrics.RecordRateLimitWait(endpoint)
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	cacheable := c.cache != nil && req.Cacheable && req.Method == http.MethodGet
	var cached *CacheEntry
	var cacheKey string
	if cacheable {
		cacheKey = req.fingerprint()
		var found bool
		cached, found = c.cache.Get(cacheKey)
		if found {
			c.metrics.RecordCacheValidation(req.Method, endpoint)
		} else {
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}
		if c.debug.LogCache {
			c.logger.Debug("cache lookup", "key", cacheKey, "found", found)
		}
	}

	for attempt := 0; ; attempt++ {
		outcome, resp := c.attempt(ctx, req, cached, attempt, start, requestID)

		switch outcome.Class {
		case ClassSuccess:
			resp.Attempts = attempt + 1
			if cacheable {
				if entry := entryFromResponse(resp); entry != nil {
					c.cache.Set(cacheKey, entry)
				} else {
					// The origin stopped sending validators; a stored entry
					// would keep revalidating against a superseded body.
					c.cache.Delete(cacheKey)
				}
				c.metrics.RecordCacheSize("default", c.cache.Len())
			}
			return resp, nil

		case ClassNotModified:
			if cached != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
				cached.LastValidated = time.Now()
				c.cache.Set(cacheKey, cached)
				return &Response{
					StatusCode: cached.StatusCode,
					Header:     cached.Header.Clone(),
					Body:       append([]byte(nil), cached.Body...),
					FromCache:  true,
					Attempts:   attempt + 1,
				}, nil
			}
			// A 304 with nothing stored means our validator state is stale.
			// Drop it and retry unconditionally.
			outcome.Class = ClassRetryableFailure
			cached = nil

		case ClassFatalFailure:
			if outcome.Canceled {
				return nil, outcome.Err
			}
			return nil, c.surface(outcome, req, attempt, start, requestID)
		}

		// Retryable failure or rate limited from here on.
		delay, retry := c.policy.ShouldRetry(outcome, attempt)
		if !retry {
			return nil, c.surface(outcome, req, attempt, start, requestID)
		}

		if c.retryBudget != nil && !c.retryBudget.Allow() {
			c.metrics.RecordError(ErrorTypeRetryBudget, req.Method, endpoint)
			return nil, c.wrap(ErrorTypeRetryBudget, "retry budget exhausted", outcome, req, attempt, start, requestID)
		}

		c.metrics.RecordRetry(req.Method, endpoint, outcome.Class)
		if c.debug.LogRetries {
			c.logger.Info("retrying request",
				"requestID", requestID, "method", req.Method, "endpoint", endpoint,
				"attempt", attempt+1, "class", outcome.Class.String(), "delay", delay)
		}

		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one network attempt and classifies the result. The
// response body is fully consumed before returning so the connection slot is
// held for the whole exchange.
func (c *Client) attempt(ctx context.Context, req *Request, cached *CacheEntry, attempt int, start time.Time, requestID string) (RequestOutcome, *Response) {
	endpoint := req.Path

	var breaker *CircuitBreaker
	var target string
	httpReq, err := c.buildHTTPRequest(ctx, req, cached)
	if err != nil {
		return RequestOutcome{Class: ClassFatalFailure, Err: err}, nil
	}

	if c.breakers != nil {
		breaker, target = c.breakers.For(httpReq)
		if !breaker.Allow() {
			if c.debug.LogBreaker {
				c.logger.Warn("circuit open, rejecting request", "requestID", requestID, "target", target, "endpoint", endpoint)
			}
			c.metrics.RecordBreakerRejected(target)
			c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
			return RequestOutcome{
				Class: ClassFatalFailure,
				Err: c.wrap(ErrorTypeCircuitOpen, "circuit breaker is open",
					RequestOutcome{}, req, attempt, start, requestID),
			}, nil
		}
	}

	if err := c.slots.acquire(ctx); err != nil {
		// The attempt never reached the network; give back any half-open
		// trial slot so the breaker is not left waiting on a verdict.
		if breaker != nil {
			breaker.ReleaseTrial()
		}
		if err == ErrPoolExhausted {
			c.metrics.RecordPoolExhausted("default")
			c.metrics.RecordError(ErrorTypePoolExhausted, req.Method, endpoint)
			return RequestOutcome{
				Class: ClassFatalFailure,
				Err: c.wrap(ErrorTypePoolExhausted, "connection pool exhausted",
					RequestOutcome{}, req, attempt, start, requestID),
			}, nil
		}
		return RequestOutcome{Class: ClassFatalFailure, Err: err, Canceled: true}, nil
	}
	c.metrics.RecordPoolInUse("default", c.slots.inUse())

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeouts.attemptDeadline())
	httpResp, err := c.roundTrip(httpReq.WithContext(attemptCtx))

	var body []byte
	if err == nil && httpResp != nil {
		body, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			httpResp = nil
		}
	}
	cancel()
	c.slots.release()
	c.metrics.RecordPoolInUse("default", c.slots.inUse())

	outcome := classifyOutcome(httpResp, err)

	if breaker != nil {
		switch outcome.Class {
		case ClassSuccess, ClassNotModified:
			breaker.RecordSuccess()
		case ClassRetryableFailure, ClassFatalFailure:
			if outcome.Canceled {
				// Cancellation says nothing about the target's health; the
				// trial slot goes back without a verdict.
				breaker.ReleaseTrial()
			} else {
				breaker.RecordFailure()
				if c.debug.LogBreaker {
					c.logger.Warn("breaker failure recorded",
						"requestID", requestID, "target", target,
						"state", breaker.State().String(), "failures", breaker.Failures())
				}
			}
		case ClassRateLimited:
			// Throttling is not a failure verdict either.
			breaker.ReleaseTrial()
		}
		c.metrics.RecordBreakerState(target, breaker.State())
	}

	if outcome.Class == ClassRateLimited {
		c.tracker.ObserveHint(outcome.Hint)
	}

	if outcome.Class != ClassSuccess {
		return outcome, nil
	}

	return outcome, &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}
}

// buildHTTPRequest materializes a fresh *http.Request for one attempt.
func (c *Client) buildHTTPRequest(ctx context.Context, req *Request, cached *CacheEntry) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	attachConditionalHeaders(httpReq, cached)

	return httpReq, nil
}

// roundTrip runs the middleware chain ending at the real transport.
func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	var next RoundTripper = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return c.httpClient.Do(r)
	})

	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		inner := next
		next = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, inner)
		})
	}

	return next.RoundTrip(req)
}

// surface converts a terminal outcome into the error returned to the caller.
func (c *Client) surface(outcome RequestOutcome, req *Request, attempt int, start time.Time, requestID string) error {
	endpoint := req.Path

	// Errors manufactured earlier in the pipeline pass through unchanged.
	if ce, ok := outcome.Err.(*ClientError); ok {
		return ce
	}

	switch outcome.Class {
	case ClassRateLimited:
		c.metrics.RecordError(ErrorTypeRateLimit, req.Method, endpoint)
		err := c.wrap(ErrorTypeRateLimit, "rate limited by server", outcome, req, attempt, start, requestID)
		if outcome.Hint != nil {
			err.RetryAfter = outcome.Hint.RetryAfter
		}
		return err

	case ClassRetryableFailure:
		if outcome.Err != nil {
			if isTimeoutError(outcome.Err) {
				c.metrics.RecordError(ErrorTypeTimeout, req.Method, endpoint)
				return c.wrap(ErrorTypeTimeout, "request timed out", outcome, req, attempt, start, requestID)
			}
			c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
			return c.wrap(ErrorTypeNetwork, "network error", outcome, req, attempt, start, requestID)
		}
		c.metrics.RecordError(ErrorTypeServer, req.Method, endpoint)
		return c.wrap(ErrorTypeServer,
			fmt.Sprintf("server returned status %d", outcome.StatusCode), outcome, req, attempt, start, requestID)

	default:
		c.metrics.RecordError(ErrorTypeClient, req.Method, endpoint)
		return c.wrap(ErrorTypeClient,
			fmt.Sprintf("request failed with status %d", outcome.StatusCode), outcome, req, attempt, start, requestID)
	}
}

func (c *Client) wrap(errorType, message string, outcome RequestOutcome, req *Request, attempt int, start time.Time, requestID string) *ClientError {
	maxRetries := 0
	if p, ok := c.policy.(*DefaultRetryPolicy); ok {
		maxRetries = p.MaxRetries()
	}
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      outcome.Err,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        c.config.BaseURL + req.Path,
		Endpoint:   req.Path,
		StatusCode: outcome.StatusCode,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
