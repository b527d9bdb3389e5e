// Package devrev provides a resilient client for the DevRev REST API built
// from composable reliability primitives:
//
//   - Bounded connection pooling with an explicit in-flight cap
//   - Retries with exponential backoff + jitter, honoring Retry-After hints
//   - Per-host circuit breakers (open / half-open / closed states)
//   - Server rate-limit awareness plus an optional local token bucket
//   - Conditional request caching (ETag / If-None-Match revalidation)
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Middleware chain for cross-cutting concerns (auth, tracing, etc.)
//   - Prometheus metrics and structured debug logging via zerolog
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Every attempt classified into exactly one outcome class, so retry,
//     breaker and cache decisions never re-inspect raw responses
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user supplied middleware & pluggable cache / metrics
//
// Typical usage:
//
//	client, err := devrev.New(
//	    devrev.WithAPIKey(os.Getenv("DEVREV_API_KEY")),
//	    devrev.WithMaxRetries(3),
//	    devrev.WithCircuitBreaker(devrev.CircuitBreakerConfig{}),
//	    devrev.WithMetrics(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.Get(ctx, "/works.list", nil)
//
// Configuration can also come from DEVREV_* environment variables via
// NewFromEnv, with a .env file loaded when present.
package devrev
