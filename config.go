package devrev

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.devrev.ai"

	envPrefix = "DEVREV"
)

// Timeouts holds the per-phase timeouts of a request. Phases are bounded
// individually so a slow body read cannot consume the connect budget and
// vice versa.
type Timeouts struct {
	// Connect bounds dialing and TLS handshake.
	Connect time.Duration
	// Read bounds waiting for response headers.
	Read time.Duration
	// Write bounds sending the request body, enforced through the attempt
	// deadline.
	Write time.Duration
	// Pool bounds waiting for a free connection slot.
	Pool time.Duration
}

// DefaultTimeouts returns the standard per-phase timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 5 * time.Second,
		Read:    30 * time.Second,
		Write:   30 * time.Second,
		Pool:    10 * time.Second,
	}
}

// TimeoutsFromTotal derives per-phase timeouts from a single total budget,
// splitting it in the same proportions as the defaults.
func TimeoutsFromTotal(total time.Duration) Timeouts {
	if total <= 0 {
		return DefaultTimeouts()
	}
	return Timeouts{
		Connect: total / 6,
		Read:    total,
		Write:   total,
		Pool:    total / 3,
	}
}

// Validate checks that every phase timeout is positive.
func (t Timeouts) Validate() error {
	if t.Connect <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %v", t.Connect)
	}
	if t.Read <= 0 {
		return fmt.Errorf("read timeout must be positive, got %v", t.Read)
	}
	if t.Write <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", t.Write)
	}
	if t.Pool <= 0 {
		return fmt.Errorf("pool timeout must be positive, got %v", t.Pool)
	}
	return nil
}

// attemptDeadline is the per-attempt budget: headers plus body on the slower
// of the read and write phases.
func (t Timeouts) attemptDeadline() time.Duration {
	d := t.Read
	if t.Write > d {
		d = t.Write
	}
	return t.Connect + d
}

// Config collects every tunable of the client. Zero values mean "use the
// default"; explicit functional options override whatever the config says.
type Config struct {
	// BaseURL is the API root. Must be an absolute https URL.
	BaseURL string
	// APIKey is the bearer token sent with every request.
	APIKey string
	// UserAgent overrides the default User-Agent header.
	UserAgent string

	Timeouts Timeouts
	Pool     PoolConfig

	// MaxRetries bounds retries per request (attempts = MaxRetries + 1).
	MaxRetries int
	// RetryBaseDelay is the first backoff step.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the exponential growth.
	RetryMaxDelay time.Duration
	// RetryJitter is the relative jitter band, in [0, 1].
	RetryJitter float64

	// BreakerEnabled turns the circuit breaker on.
	BreakerEnabled bool
	Breaker        CircuitBreakerConfig

	// CacheEnabled turns conditional request caching on.
	CacheEnabled bool
	// CacheMaxEntries bounds the cache size.
	CacheMaxEntries int

	// RateLimitPerSecond enables a client-side token bucket when positive.
	RateLimitPerSecond float64
	// RateLimitBurst is the bucket size for the client-side limiter.
	RateLimitBurst int

	// DedupEnabled coalesces identical concurrent idempotent requests.
	DedupEnabled bool

	// Debug enables verbose request logging.
	Debug bool
}

// DefaultConfig returns the configuration the client starts from before env
// and options are applied.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeouts:        DefaultTimeouts(),
		Pool:            DefaultPoolConfig(),
		MaxRetries:      3,
		RetryBaseDelay:  500 * time.Millisecond,
		RetryMaxDelay:   30 * time.Second,
		RetryJitter:     0.1,
		BreakerEnabled:  true,
		Breaker:         CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3},
		CacheEnabled:    true,
		CacheMaxEntries: 1000,
		DedupEnabled:    false,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must include a host, got %q", c.BaseURL)
	}
	// Plain http is only acceptable against loopback, for local development
	// and tests. Anything else must use TLS.
	if u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("base URL must use https, got %q", c.BaseURL)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %v", c.RetryBaseDelay)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry max delay (%v) must not be below base delay (%v)",
			c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("retry jitter must be in [0, 1], got %v", c.RetryJitter)
	}
	if c.BreakerEnabled {
		if c.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("breaker failure threshold must be positive, got %d", c.Breaker.FailureThreshold)
		}
		if c.Breaker.RecoveryTimeout <= 0 {
			return fmt.Errorf("breaker recovery timeout must be positive, got %v", c.Breaker.RecoveryTimeout)
		}
		if c.Breaker.HalfOpenMaxCalls <= 0 {
			return fmt.Errorf("breaker half-open max calls must be positive, got %d", c.Breaker.HalfOpenMaxCalls)
		}
	}
	if c.CacheEnabled && c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limit must be non-negative, got %v", c.RateLimitPerSecond)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ConfigFromEnv builds a config from DEVREV_* environment variables layered
// over the defaults. A .env file in the working directory is loaded first
// when present; real environment variables win over it.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("api_key", "")
	v.SetDefault("user_agent", "")
	v.SetDefault("timeout_connect", def.Timeouts.Connect)
	v.SetDefault("timeout_read", def.Timeouts.Read)
	v.SetDefault("timeout_write", def.Timeouts.Write)
	v.SetDefault("timeout_pool", def.Timeouts.Pool)
	v.SetDefault("max_connections", def.Pool.MaxConnections)
	v.SetDefault("max_idle_connections", def.Pool.MaxIdleConnections)
	v.SetDefault("keep_alive", def.Pool.KeepAlive)
	v.SetDefault("http2", def.Pool.HTTP2)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("retry_base_delay", def.RetryBaseDelay)
	v.SetDefault("retry_max_delay", def.RetryMaxDelay)
	v.SetDefault("retry_jitter", def.RetryJitter)
	v.SetDefault("breaker_enabled", def.BreakerEnabled)
	v.SetDefault("breaker_failure_threshold", def.Breaker.FailureThreshold)
	v.SetDefault("breaker_recovery_timeout", def.Breaker.RecoveryTimeout)
	v.SetDefault("breaker_half_open_max_calls", def.Breaker.HalfOpenMaxCalls)
	v.SetDefault("cache_enabled", def.CacheEnabled)
	v.SetDefault("cache_max_entries", def.CacheMaxEntries)
	v.SetDefault("rate_limit_per_second", def.RateLimitPerSecond)
	v.SetDefault("rate_limit_burst", def.RateLimitBurst)
	v.SetDefault("dedup_enabled", def.DedupEnabled)
	v.SetDefault("debug", def.Debug)

	cfg := Config{
		BaseURL:   v.GetString("base_url"),
		APIKey:    v.GetString("api_key"),
		UserAgent: v.GetString("user_agent"),
		Timeouts: Timeouts{
			Connect: v.GetDuration("timeout_connect"),
			Read:    v.GetDuration("timeout_read"),
			Write:   v.GetDuration("timeout_write"),
			Pool:    v.GetDuration("timeout_pool"),
		},
		Pool: PoolConfig{
			MaxConnections:     v.GetInt("max_connections"),
			MaxIdleConnections: v.GetInt("max_idle_connections"),
			KeepAlive:          v.GetDuration("keep_alive"),
			HTTP2:              v.GetBool("http2"),
		},
		MaxRetries:     v.GetInt("max_retries"),
		RetryBaseDelay: v.GetDuration("retry_base_delay"),
		RetryMaxDelay:  v.GetDuration("retry_max_delay"),
		RetryJitter:    v.GetFloat64("retry_jitter"),
		BreakerEnabled: v.GetBool("breaker_enabled"),
		Breaker: CircuitBreakerConfig{
			FailureThreshold: v.GetInt("breaker_failure_threshold"),
			RecoveryTimeout:  v.GetDuration("breaker_recovery_timeout"),
			HalfOpenMaxCalls: v.GetInt("breaker_half_open_max_calls"),
		},
		CacheEnabled:       v.GetBool("cache_enabled"),
		CacheMaxEntries:    v.GetInt("cache_max_entries"),
		RateLimitPerSecond: v.GetFloat64("rate_limit_per_second"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
		DedupEnabled:       v.GetBool("dedup_enabled"),
		Debug:              v.GetBool("debug"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config from environment: %w", err)
	}
	return cfg, nil
}
