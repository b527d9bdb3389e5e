// Package backoff centralizes retry delay calculation behind a small
// strategy interface so the retry policy stays a pure decision function.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns the backoff duration for the given attempt number
	// (0-indexed) and parameters.
	Delay(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration
}

// ExponentialJitter doubles the delay per attempt, caps it at maxDelay, then
// perturbs it by a uniform random factor within ±jitter. The result for
// attempt n always lies in [d*(1-jitter), d*(1+jitter)] where
// d = min(maxDelay, baseDelay*2^n).
type ExponentialJitter struct{}

// Delay implements Strategy.
func (ExponentialJitter) Delay(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the shift below cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	delay := baseDelay << uint(attempt)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		// Uniform in [-jitter, +jitter].
		factor := 1 + jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// DecorrelatedJitter implements the AWS decorrelated jitter variant:
// a random delay between the base and min(cap, base*3^attempt). It trades the
// tight band of ExponentialJitter for smoother tail latencies.
type DecorrelatedJitter struct{}

// Delay implements Strategy.
func (DecorrelatedJitter) Delay(attempt int, baseDelay, maxDelay time.Duration, _ float64) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(baseDelay)
	upper := base * Pow(3.0, attempt)

	maxFloat := float64(maxDelay)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
