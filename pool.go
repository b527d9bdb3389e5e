package devrev

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/http2"
)

// PoolConfig bounds the client's connection usage. The transport enforces the
// per-host connection and idle limits; a counted semaphore in front of it
// enforces the total in-flight bound so callers queue instead of piling onto
// the transport.
type PoolConfig struct {
	// MaxConnections is the hard cap on concurrent in-flight requests.
	MaxConnections int
	// MaxIdleConnections is how many keep-alive connections are retained.
	// Must not exceed MaxConnections.
	MaxIdleConnections int
	// KeepAlive is how long an idle connection is kept before closing.
	KeepAlive time.Duration
	// HTTP2 enables HTTP/2 negotiation on the transport.
	HTTP2 bool
}

// DefaultPoolConfig returns the standard pool bounds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:     100,
		MaxIdleConnections: 20,
		KeepAlive:          30 * time.Second,
		HTTP2:              true,
	}
}

// Validate checks the pool bounds for consistency.
func (c PoolConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxIdleConnections < 0 {
		return fmt.Errorf("max idle connections must be non-negative, got %d", c.MaxIdleConnections)
	}
	if c.MaxIdleConnections > c.MaxConnections {
		return fmt.Errorf("max idle connections (%d) must not exceed max connections (%d)",
			c.MaxIdleConnections, c.MaxConnections)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("keep-alive must be non-negative, got %v", c.KeepAlive)
	}
	return nil
}

// newTransport builds the pooled transport for the client from the pool and
// timeout configuration.
func newTransport(pool PoolConfig, timeouts Timeouts) (*http.Transport, error) {
	transport := cleanhttp.DefaultPooledTransport()

	transport.DialContext = (&net.Dialer{
		Timeout:   timeouts.Connect,
		KeepAlive: pool.KeepAlive,
	}).DialContext
	transport.MaxConnsPerHost = pool.MaxConnections
	transport.MaxIdleConns = pool.MaxIdleConnections
	transport.MaxIdleConnsPerHost = pool.MaxIdleConnections
	transport.IdleConnTimeout = pool.KeepAlive
	transport.ResponseHeaderTimeout = timeouts.Read
	transport.TLSHandshakeTimeout = timeouts.Connect
	transport.ForceAttemptHTTP2 = pool.HTTP2

	if pool.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configuring http2: %w", err)
		}
	}

	return transport, nil
}

// connSlots is a counted semaphore bounding in-flight requests. Slots are
// acquired before an attempt is dialed and released after the response body
// is consumed, so the bound covers the whole exchange.
type connSlots struct {
	slots          chan struct{}
	acquireTimeout time.Duration
}

func newConnSlots(max int, acquireTimeout time.Duration) *connSlots {
	return &connSlots{
		slots:          make(chan struct{}, max),
		acquireTimeout: acquireTimeout,
	}
}

// acquire blocks until a slot is free, the acquire timeout fires, or ctx is
// done. Exhaustion returns ErrPoolExhausted; caller cancellation returns the
// context error.
func (s *connSlots) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}

	if s.acquireTimeout <= 0 {
		select {
		case s.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrPoolExhausted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *connSlots) release() {
	select {
	case <-s.slots:
	default:
	}
}

// inUse returns how many slots are currently held.
func (s *connSlots) inUse() int {
	return len(s.slots)
}

// capacity returns the total slot count.
func (s *connSlots) capacity() int {
	return cap(s.slots)
}
