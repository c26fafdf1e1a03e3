package flinks

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces a per-minute call budget with a sliding window.
type rateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	calls    []time.Time
}

func newRateLimiter(maxCallsPerMinute int) *rateLimiter {
	return &rateLimiter{maxCalls: maxCallsPerMinute}
}

// Wait blocks until a call slot is available or the context is cancelled.
func (r *rateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records the call and returns 0 when it may proceed now, or how long
// to wait before trying again.
func (r *rateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := r.calls[:0]
	for _, t := range r.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.calls = kept

	if len(r.calls) >= r.maxCalls {
		return r.calls[0].Sub(cutoff)
	}
	r.calls = append(r.calls, now)
	return 0
}
