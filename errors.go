package devrev

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants used in ClientError.Type.
const (
	ErrorTypeNetwork       = "Network"
	ErrorTypeTimeout       = "Timeout"
	ErrorTypeServer        = "Server"
	ErrorTypeClient        = "Client"
	ErrorTypeRateLimit     = "RateLimit"
	ErrorTypeCircuitOpen   = "CircuitBreaker"
	ErrorTypePoolExhausted = "PoolExhausted"
	ErrorTypeRetryBudget   = "RetryBudget"
	ErrorTypeValidation    = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a request
	// without attempting a network call.
	ErrCircuitOpen = errors.New("devrev: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting
	// after the retry budget is exhausted.
	ErrRateLimited = errors.New("devrev: rate limited")

	// ErrPoolExhausted is returned when a connection could not be acquired
	// from the pool within the pool-acquisition timeout.
	ErrPoolExhausted = errors.New("devrev: connection pool exhausted")

	// ErrRetryBudgetExceeded is returned when the client-wide retry budget is
	// exhausted.
	ErrRetryBudgetExceeded = errors.New("devrev: retry budget exceeded")
)

// sentinelForType maps error type constants onto sentinel errors so that
// errors.Is(err, ErrCircuitOpen) and friends work on *ClientError values.
var sentinelForType = map[string]error{
	ErrorTypeCircuitOpen:   ErrCircuitOpen,
	ErrorTypeRateLimit:     ErrRateLimited,
	ErrorTypePoolExhausted: ErrPoolExhausted,
	ErrorTypeRetryBudget:   ErrRetryBudgetExceeded,
}

// ClientError is the error type surfaced across the module boundary. It
// carries enough context to distinguish "your request was wrong" from "the
// service is struggling" from "we couldn't even get a connection".
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	RetryAfter time.Duration
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares against other ClientErrors by type, and against the package
// sentinels by their mapped type.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	if sentinel, ok := sentinelForType[e.Type]; ok {
		return target == sentinel
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry. Returns true for network errors, timeouts, 5xx
// server responses, rate limiting and open circuits. Returns false for 4xx
// client errors (except 429), pool exhaustion and configuration errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return clientErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
