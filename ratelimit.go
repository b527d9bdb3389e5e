package devrev

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitHint is a server-declared throttling signal: the mandatory wait
// the server asked for and when it was observed. Hints are advisory and
// single-use; consuming one does not affect subsequent attempts.
type RateLimitHint struct {
	RetryAfter time.Duration
	ObservedAt time.Time
}

// Remaining returns how much of the hinted wait is still outstanding.
func (h *RateLimitHint) Remaining() time.Duration {
	if h == nil {
		return 0
	}
	remaining := h.RetryAfter - time.Since(h.ObservedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RateLimitTracker passively observes server-reported rate-limit state and
// converts a too-many-requests signal into a mandatory wait duration. It
// never initiates throttling on its own.
type RateLimitTracker struct {
	mu   sync.Mutex
	hint *RateLimitHint
}

// NewRateLimitTracker creates an empty tracker.
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{}
}

// Observe records a hint from a 429 response's Retry-After header, replacing
// any previous unconsumed hint.
func (t *RateLimitTracker) Observe(resp *http.Response) {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return
	}
	d := parseRetryAfter(resp.Header.Get("Retry-After"))
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.hint = &RateLimitHint{RetryAfter: d, ObservedAt: time.Now()}
	t.mu.Unlock()
}

// ObserveHint records an already-parsed hint.
func (t *RateLimitTracker) ObserveHint(hint *RateLimitHint) {
	if hint == nil {
		return
	}
	t.mu.Lock()
	t.hint = hint
	t.mu.Unlock()
}

// Consume returns the pending hint and clears it. The second return is false
// when no hint is pending.
func (t *RateLimitTracker) Consume() (*RateLimitHint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hint == nil {
		return nil, false
	}
	hint := t.hint
	t.hint = nil
	return hint, true
}

// LocalRateLimiter throttles outgoing requests client-side with a token
// bucket, independent of any server signals. It is optional; the executor
// only consults it when configured.
type LocalRateLimiter struct {
	limiter *rate.Limiter
}

// NewLocalRateLimiter allows rps requests per second with the given burst.
func NewLocalRateLimiter(rps float64, burst int) *LocalRateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &LocalRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until a token is available or the context is done.
func (l *LocalRateLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now without blocking.
func (l *LocalRateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (l *LocalRateLimiter) Tokens() float64 {
	return l.limiter.Tokens()
}
