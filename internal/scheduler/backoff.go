package scheduler

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth from a base, capped,
// plus uniform jitter so retries from many jobs do not align.
type Backoff struct {
	base      time.Duration
	ceiling   time.Duration
	jitter    time.Duration
	randFloat func() float64
}

// NewBackoff creates a Backoff with the given base delay, cap, and
// jitter window.
func NewBackoff(base, ceiling, jitter time.Duration) *Backoff {
	return &Backoff{
		base:      base,
		ceiling:   ceiling,
		jitter:    jitter,
		randFloat: rand.Float64, //nolint:gosec // retry scatter, not crypto
	}
}

// Delay returns the wait before retrying a job that has completed the
// given number of attempts (at least 1). The deterministic part doubles
// per attempt up to the cap.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.ceiling {
			d = b.ceiling
			break
		}
	}
	if d > b.ceiling {
		d = b.ceiling
	}

	if b.jitter > 0 {
		d += time.Duration(b.randFloat() * float64(b.jitter))
	}
	return d
}
