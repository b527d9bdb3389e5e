package devrev

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// StatusClass partitions the result of a single network attempt. Exactly one
// class applies per attempt; the retry policy, circuit breaker and cache all
// branch on it instead of re-inspecting responses and errors.
type StatusClass int

const (
	// ClassSuccess is any 2xx response.
	ClassSuccess StatusClass = iota
	// ClassRetryableFailure is a network timeout, connection error or 5xx.
	ClassRetryableFailure
	// ClassFatalFailure is a 4xx other than 429, or a caller cancellation.
	ClassFatalFailure
	// ClassRateLimited is a 429 response, optionally carrying a wait hint.
	ClassRateLimited
	// ClassNotModified is a 304 response to a conditional request.
	ClassNotModified
)

// String returns a readable name for the status class.
func (c StatusClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryableFailure:
		return "retryable_failure"
	case ClassFatalFailure:
		return "fatal_failure"
	case ClassRateLimited:
		return "rate_limited"
	case ClassNotModified:
		return "not_modified"
	default:
		return "unknown"
	}
}

// RequestOutcome is the classified result of one network attempt.
type RequestOutcome struct {
	Class      StatusClass
	StatusCode int
	Header     http.Header
	Hint       *RateLimitHint
	Err        error
	Canceled   bool
}

// classifyOutcome maps a raw (response, error) pair from one attempt into a
// RequestOutcome. Transport-level errors are retryable except caller
// cancellation, which is fatal and flagged so the executor can surface the
// context error untouched.
func classifyOutcome(resp *http.Response, err error) RequestOutcome {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return RequestOutcome{Class: ClassFatalFailure, Err: err, Canceled: true}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return RequestOutcome{Class: ClassRetryableFailure, Err: err}
		}
		return RequestOutcome{Class: ClassRetryableFailure, Err: err}
	}

	out := RequestOutcome{StatusCode: resp.StatusCode, Header: resp.Header}
	switch {
	case resp.StatusCode == http.StatusNotModified:
		out.Class = ClassNotModified
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.Class = ClassSuccess
	case resp.StatusCode == http.StatusTooManyRequests:
		out.Class = ClassRateLimited
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			out.Hint = &RateLimitHint{RetryAfter: d, ObservedAt: time.Now()}
		}
	case resp.StatusCode >= 500:
		out.Class = ClassRetryableFailure
	default:
		out.Class = ClassFatalFailure
	}
	return out
}

// isTimeoutError reports whether err is a transport timeout rather than a
// connection failure, used only to pick the error type on surfacing.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
