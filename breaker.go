package devrev

import (
	"net/http"
	"sync"
	"time"
)

// CircuitBreakerConfig holds circuit breaker configuration. Zero values are
// replaced with defaults by NewCircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing
	// half-open trial requests.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent trial requests while half-open.
	HalfOpenMaxCalls int
}

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns a readable name for the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one logical target. Requests pass while CLOSED, are
// rejected while OPEN, and are admitted as a bounded number of trials while
// HALF_OPEN. All transitions happen under a single mutex so that two
// concurrent failures cannot double-transition the machine.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// NewCircuitBreaker creates a circuit breaker, filling zero config fields
// with defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls == 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed, transitioning OPEN to
// HALF_OPEN once the recovery timeout has elapsed. While HALF_OPEN each
// admitted request counts against the trial cap; further requests are
// rejected until an outstanding trial resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit if it was
// half-open. A single successful trial is enough to close.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.halfOpenCalls = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}
}

// RecordFailure increments the consecutive failure count. A failure while
// half-open reopens the circuit immediately; reaching the threshold while
// closed opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.halfOpenCalls = 0
	case cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold:
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// ReleaseTrial returns a half-open trial slot when an attempt ended without
// a verdict on the target: the caller canceled, the request never reached
// the network, or the server throttled. Without this, abandoned trials would
// pin the breaker half-open with no admissible slots.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
}

// BreakerKeyFunc derives the logical target key for a request. Breakers are
// keyed per host by default so one failing endpoint family does not trip the
// circuit for others.
type BreakerKeyFunc func(*http.Request) string

// DefaultBreakerKeyFunc keys breakers by request host.
func DefaultBreakerKeyFunc(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// RouteBreakerKeyFunc keys breakers by host, method and path for
// finer-grained isolation.
func RouteBreakerKeyFunc(req *http.Request) string {
	host := ""
	if req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		host = req.Host
	}
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	return "route:" + host + ":" + req.Method + ":" + path
}

// BreakerRegistry lazily creates one CircuitBreaker per target key.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	keyFunc  BreakerKeyFunc
}

// NewBreakerRegistry creates a registry that stamps out breakers with the
// given config, keyed by keyFunc (per host when nil).
func NewBreakerRegistry(config CircuitBreakerConfig, keyFunc BreakerKeyFunc) *BreakerRegistry {
	if keyFunc == nil {
		keyFunc = DefaultBreakerKeyFunc
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		keyFunc:  keyFunc,
	}
}

// For returns the breaker for the request's target, creating it on first use.
func (r *BreakerRegistry) For(req *http.Request) (*CircuitBreaker, string) {
	key := r.keyFunc(req)

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb, key
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[key]; ok {
		return cb, key
	}
	cb = NewCircuitBreaker(r.config)
	r.breakers[key] = cb
	return cb, key
}

// ResetAll resets every breaker in the registry to closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
