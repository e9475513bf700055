// Package retry provides pluggable backoff policies for explicit retry loops.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Policy computes the delay before the next attempt. attempt is 1-based:
// NextDelay(1) is the wait after the first failed attempt.
type Policy interface {
	NextDelay(attempt int) time.Duration
}

// Exponential doubles the delay per attempt: min(max(Base * 2^(attempt-1), Min), Cap).
type Exponential struct {
	Base time.Duration
	Min  time.Duration
	Cap  time.Duration
}

// NewExponential returns the standard webhook backoff: 1s doubling, capped at 30s.
func NewExponential() Exponential {
	return Exponential{Base: time.Second, Min: time.Second, Cap: 30 * time.Second}
}

// NextDelay implements Policy.
func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.Cap {
			d = e.Cap
			break
		}
	}
	if d < e.Min {
		d = e.Min
	}
	if e.Cap > 0 && d > e.Cap {
		d = e.Cap
	}
	return d
}

// Jittered wraps a Policy and applies +-25% jitter to each delay.
type Jittered struct {
	Policy Policy
}

// NextDelay implements Policy.
func (j Jittered) NextDelay(attempt int) time.Duration {
	d := j.Policy.NextDelay(attempt)
	jitter := d / 4
	if jitter <= 0 {
		return d
	}
	return d - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
}

// Sleep waits for the policy's delay or until ctx is done, whichever first.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.NextDelay(attempt)):
		return nil
	}
}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}
