package ratelimit

import (
	"context"
	"time"
)

// CarrierBudget throttles outbound calls to a single carrier API with a
// sliding window. Acquire blocks until a slot is free or the context ends, so
// batch workers naturally pace themselves under carrier quotas.
type CarrierBudget struct {
	Limiter Limiter
	Window  time.Duration
	Max     int
	// Poll is the wait between attempts when the window is full.
	Poll time.Duration
}

// Acquire reserves one outbound call slot for the carrier.
func (b CarrierBudget) Acquire(ctx context.Context, carrier string) error {
	if b.Max <= 0 || b.Window <= 0 {
		return nil
	}
	poll := b.Poll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	for {
		allowed, _, _, err := b.Limiter.Allow(ctx, carrier, b.Window, b.Max)
		if err != nil {
			// Redis trouble must not stall tracking; fail open.
			return nil
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
