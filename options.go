package devrev

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Client during construction.
type Option func(*Client)

// WithConfig replaces the entire base configuration. Options applied after
// this one override individual fields.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.config = cfg
	}
}

// WithBaseURL sets the API root URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.config.BaseURL = baseURL
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.config.APIKey = apiKey
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.config.UserAgent = userAgent
	}
}

// WithTimeouts sets the per-phase timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		c.config.Timeouts = t
	}
}

// WithTotalTimeout derives per-phase timeouts from a single budget.
func WithTotalTimeout(total time.Duration) Option {
	return func(c *Client) {
		c.config.Timeouts = TimeoutsFromTotal(total)
	}
}

// WithPoolConfig sets the connection pool bounds.
func WithPoolConfig(pool PoolConfig) Option {
	return func(c *Client) {
		c.config.Pool = pool
	}
}

// WithMaxRetries sets the maximum number of retry attempts per request.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.config.MaxRetries = n
	}
}

// WithRetryBackoff sets the backoff parameters for the default retry policy.
func WithRetryBackoff(baseDelay, maxDelay time.Duration, jitter float64) Option {
	return func(c *Client) {
		c.config.RetryBaseDelay = baseDelay
		c.config.RetryMaxDelay = maxDelay
		c.config.RetryJitter = jitter
	}
}

// WithRetryPolicy replaces the retry policy entirely.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithRetryBudget caps total retries across all requests per window.
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.retryBudget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithCircuitBreaker enables the circuit breaker with the given settings.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.config.BreakerEnabled = true
		c.config.Breaker = config
	}
}

// WithBreakerKeyFunc sets how breaker targets are derived from requests. The
// registry is built once all options have applied, so ordering relative to
// WithCircuitBreaker does not matter.
func WithBreakerKeyFunc(keyFunc BreakerKeyFunc) Option {
	return func(c *Client) {
		c.config.BreakerEnabled = true
		c.breakerKeyFunc = keyFunc
	}
}

// WithoutCircuitBreaker disables circuit breaking.
func WithoutCircuitBreaker() Option {
	return func(c *Client) {
		c.config.BreakerEnabled = false
		c.breakers = nil
	}
}

// WithCache enables conditional caching bounded to maxEntries.
func WithCache(maxEntries int) Option {
	return func(c *Client) {
		c.config.CacheEnabled = true
		c.config.CacheMaxEntries = maxEntries
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache) Option {
	return func(c *Client) {
		c.config.CacheEnabled = true
		c.cache = cache
	}
}

// WithoutCache disables conditional caching.
func WithoutCache() Option {
	return func(c *Client) {
		c.config.CacheEnabled = false
		c.cache = nil
	}
}

// WithRateLimit enables a client-side token bucket of rps requests per
// second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.config.RateLimitPerSecond = rps
		c.config.RateLimitBurst = burst
	}
}

// WithDeduplication coalesces identical concurrent idempotent requests.
func WithDeduplication() Option {
	return func(c *Client) {
		c.config.DedupEnabled = true
	}
}

// WithMiddleware appends middleware to the attempt chain.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient replaces the underlying HTTP client. The pool configuration
// no longer applies to the transport when this is used; the slot bound still
// does.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug enables all debug event logging with a console logger.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = DefaultDebugConfig()
		if _, ok := c.logger.(nopLogger); ok {
			c.logger = NewConsoleLogger(nil)
		}
	}
}

// WithDebugConfig selects which lifecycle events are logged.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		if config != nil {
			c.debug = config
		}
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegisterer enables Prometheus metrics on a custom registerer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegisterer(reg)
	}
}

// WithMetricsCollector sets a pre-built collector.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = mc
	}
}
