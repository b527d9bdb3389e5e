package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitterZeroJitterIsDeterministic(t *testing.T) {
	s := ExponentialJitter{}
	base := 100 * time.Millisecond
	max := 10 * time.Second

	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		if got := s.Delay(attempt, base, max, 0); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestExponentialJitterCap(t *testing.T) {
	s := ExponentialJitter{}
	if got := s.Delay(20, time.Second, 5*time.Second, 0); got != 5*time.Second {
		t.Errorf("Delay(20) = %v, want cap 5s", got)
	}
	// Huge attempt numbers must not overflow into negative delays.
	if got := s.Delay(1000, time.Second, 5*time.Second, 0); got != 5*time.Second {
		t.Errorf("Delay(1000) = %v, want cap 5s", got)
	}
}

func TestExponentialJitterBand(t *testing.T) {
	s := ExponentialJitter{}
	base := 100 * time.Millisecond
	jitter := 0.5

	lo := time.Duration(float64(base) * (1 - jitter))
	hi := time.Duration(float64(base) * (1 + jitter))
	for i := 0; i < 500; i++ {
		got := s.Delay(0, base, time.Minute, jitter)
		if got < lo || got > hi {
			t.Fatalf("Delay = %v outside [%v, %v]", got, lo, hi)
		}
	}
}

func TestExponentialJitterClampsJitterParameter(t *testing.T) {
	s := ExponentialJitter{}
	// Out-of-range jitter values are clamped rather than rejected.
	if got := s.Delay(0, time.Second, time.Minute, -5); got != time.Second {
		t.Errorf("negative jitter: Delay = %v, want 1s", got)
	}
	got := s.Delay(0, time.Second, time.Minute, 5)
	if got < 0 || got > 2*time.Second {
		t.Errorf("oversized jitter: Delay = %v outside [0, 2s]", got)
	}
}

func TestDecorrelatedJitterBounds(t *testing.T) {
	s := DecorrelatedJitter{}
	base := 100 * time.Millisecond
	max := 2 * time.Second

	if got := s.Delay(0, base, max, 0); got != base {
		t.Errorf("Delay(0) = %v, want base %v", got, base)
	}

	for attempt := 1; attempt < 8; attempt++ {
		for i := 0; i < 100; i++ {
			got := s.Delay(attempt, base, max, 0)
			if got < base || got > max {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, got, base, max)
			}
		}
	}
}

func TestPow(t *testing.T) {
	if got := Pow(3, 0); got != 1 {
		t.Errorf("Pow(3,0) = %v, want 1", got)
	}
	if got := Pow(3, 4); got != 81 {
		t.Errorf("Pow(3,4) = %v, want 81", got)
	}
}
