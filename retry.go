package devrev

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mgmonteleone/devrev-go/internal/backoff"
)

// RetryPolicy decides, per failed attempt, whether and how long to wait
// before reattempting. Implementations must be pure: no sleeping, no network.
type RetryPolicy interface {
	// ShouldRetry returns the delay before the next attempt and whether a
	// retry should happen at all. attempt is 0-indexed: the first retry
	// decision is made with attempt == 0.
	ShouldRetry(outcome RequestOutcome, attempt int) (time.Duration, bool)
}

// DefaultRetryPolicy retries retryable failures and rate limits with
// exponential backoff and jitter, honoring server wait hints.
type DefaultRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     float64
	strategy   backoff.Strategy
}

// NewDefaultRetryPolicy creates the standard policy with an
// exponential-jitter backoff strategy.
func NewDefaultRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		jitter:     jitter,
		strategy:   backoff.ExponentialJitter{},
	}
}

// NewRetryPolicyWithStrategy creates a policy with a custom backoff strategy.
func NewRetryPolicyWithStrategy(maxRetries int, baseDelay, maxDelay time.Duration, jitter float64, strategy backoff.Strategy) *DefaultRetryPolicy {
	if strategy == nil {
		strategy = backoff.ExponentialJitter{}
	}
	return &DefaultRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		jitter:     jitter,
		strategy:   strategy,
	}
}

// ShouldRetry implements RetryPolicy. Only retryable failures and rate
// limits are retried; fatal failures and successes stop immediately. A
// server-supplied wait hint overrides the computed backoff when larger, and
// is consumed exactly once by the caller.
func (p *DefaultRetryPolicy) ShouldRetry(outcome RequestOutcome, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	switch outcome.Class {
	case ClassRetryableFailure:
		return p.strategy.Delay(attempt, p.baseDelay, p.maxDelay, p.jitter), true
	case ClassRateLimited:
		delay := p.strategy.Delay(attempt, p.baseDelay, p.maxDelay, p.jitter)
		if outcome.Hint != nil && outcome.Hint.RetryAfter > delay {
			delay = outcome.Hint.RetryAfter
		}
		return delay, true
	default:
		return 0, false
	}
}

// MaxRetries returns the configured retry bound.
func (p *DefaultRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// parseRetryAfter parses a Retry-After header value as delta-seconds or an
// HTTP-date. The result is capped at one hour; malformed values yield zero.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps the total number of retries the client may issue per
// sliding window, across all requests. It guards against retry storms when
// many concurrent callers hit the same failing target.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a budget of maxRetries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow consumes one unit of budget, resetting the window when it has
// elapsed. Returns false when the budget is exhausted.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	if atomic.LoadInt64(&rb.current) >= rb.maxRetries {
		return false
	}

	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// Stats returns the current usage, the cap, and the window start time.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
