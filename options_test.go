package devrev

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	client, err := New()
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.NotNil(t, client.breakers, "breaker enabled by default")
	assert.NotNil(t, client.cache, "cache enabled by default")
	assert.Nil(t, client.limiter, "local rate limiter off by default")
	assert.Nil(t, client.dedup, "dedup off by default")
	assert.NotNil(t, client.policy)
	assert.Equal(t, "devrev-go/"+Version, client.userAgent)
}

func TestOptionsOverrideConfig(t *testing.T) {
	client, err := New(
		WithBaseURL("https://api.example.com"),
		WithAPIKey("key"),
		WithUserAgent("custom/1.0"),
		WithMaxRetries(5),
		WithRetryBackoff(50*time.Millisecond, 5*time.Second, 0.25),
		WithRateLimit(20, 5),
		WithDeduplication(),
	)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", client.config.BaseURL)
	assert.Equal(t, "key", client.config.APIKey)
	assert.Equal(t, "custom/1.0", client.userAgent)
	assert.Equal(t, 5, client.config.MaxRetries)
	assert.Equal(t, 0.25, client.config.RetryJitter)
	assert.NotNil(t, client.limiter)
	assert.NotNil(t, client.dedup)
}

func TestWithoutCircuitBreakerAndCache(t *testing.T) {
	client, err := New(WithoutCircuitBreaker(), WithoutCache())
	require.NoError(t, err)

	assert.Nil(t, client.breakers)
	assert.Nil(t, client.cache)
}

func TestWithConfigThenFieldOption(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 9

	client, err := New(WithConfig(cfg), WithMaxRetries(1))
	require.NoError(t, err)
	assert.Equal(t, 1, client.config.MaxRetries, "later options win")
}

func TestWithRetryPolicyReplacesDefault(t *testing.T) {
	policy := NewDefaultRetryPolicy(1, time.Millisecond, time.Second, 0)
	client, err := New(WithRetryPolicy(policy))
	require.NoError(t, err)
	assert.Same(t, policy, client.policy)
}

func TestWithTotalTimeout(t *testing.T) {
	client, err := New(WithTotalTimeout(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.config.Timeouts.Read)
	assert.Equal(t, 5*time.Second, client.config.Timeouts.Connect)
}

func TestWithMetricsRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	client, err := New(WithMetricsRegisterer(reg))
	require.NoError(t, err)
	require.NotNil(t, client.metrics)

	// Recording must not panic and must register families on our registry.
	client.metrics.RecordRequest("GET", "/works.list", 200, time.Millisecond)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsCollectorIsSafe(t *testing.T) {
	var mc *MetricsCollector
	assert.NotPanics(t, func() {
		mc.RecordRequest("GET", "/x", 200, time.Second)
		mc.RecordRequestStart("GET", "/x")
		mc.RecordRequestEnd("GET", "/x")
		mc.RecordRetry("GET", "/x", ClassRetryableFailure)
		mc.RecordBreakerState("host", StateOpen)
		mc.RecordCacheHit("GET", "/x")
		mc.RecordError(ErrorTypeServer, "GET", "/x")
	})
}

func TestConfigDebugEnablesEventLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true

	client, err := New(WithConfig(cfg))
	require.NoError(t, err)
	assert.True(t, client.debug.LogRequests)
	assert.True(t, client.debug.LogRetries)
	assert.NotNil(t, client.debug.RequestIDGen)
	_, isNop := client.logger.(nopLogger)
	assert.False(t, isNop, "debug config should install a logger")

	// An explicit debug selection is not widened by Config.Debug.
	client, err = New(WithConfig(cfg), WithDebugConfig(&DebugConfig{LogRetries: true}))
	require.NoError(t, err)
	assert.True(t, client.debug.LogRetries)
	assert.False(t, client.debug.LogRequests)
}

func TestWithBreakerKeyFuncOrderIndependent(t *testing.T) {
	breakerCfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		HalfOpenMaxCalls: 1,
	}

	for name, opts := range map[string][]Option{
		"key func first": {WithBreakerKeyFunc(RouteBreakerKeyFunc), WithCircuitBreaker(breakerCfg)},
		"key func last":  {WithCircuitBreaker(breakerCfg), WithBreakerKeyFunc(RouteBreakerKeyFunc)},
	} {
		t.Run(name, func(t *testing.T) {
			client, err := New(opts...)
			require.NoError(t, err)
			require.NotNil(t, client.breakers)

			list, keyList := client.breakers.For(mustRequest(t, "GET", "https://api.devrev.ai/works.list"))
			_, keyGet := client.breakers.For(mustRequest(t, "GET", "https://api.devrev.ai/works.get"))
			assert.NotEqual(t, keyList, keyGet, "route key func should be in effect")

			list.RecordFailure()
			assert.Equal(t, StateOpen, list.State(), "configured threshold should be in effect")
		})
	}
}

func TestSlotTimeoutFollowsPoolPhaseTimeout(t *testing.T) {
	client, err := New(WithTimeouts(Timeouts{
		Connect: time.Second,
		Read:    2 * time.Second,
		Write:   2 * time.Second,
		Pool:    250 * time.Millisecond,
	}))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, client.slots.acquireTimeout)
	assert.Equal(t, client.config.Pool.MaxConnections, client.slots.capacity())
}

func TestWithDebugInstallsConsoleLogger(t *testing.T) {
	client, err := New(WithDebug())
	require.NoError(t, err)
	assert.True(t, client.debug.LogRequests)
	_, isNop := client.logger.(nopLogger)
	assert.False(t, isNop)
}

func TestConsoleLoggerWritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf)

	logger.Info("request started", "method", "GET", "endpoint", "/works.list")
	out := buf.String()
	assert.Contains(t, out, "request started")
	assert.Contains(t, out, "/works.list")
}
