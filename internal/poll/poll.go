// Package poll provides a fixed-interval "retry until done or timeout" loop
// shared by run correlation and completion polling.
package poll

import (
	"context"
	"time"
)

const (
	defaultInterval = 1 * time.Second
	defaultTimeout  = 1 * time.Minute
)

// Policy bounds a polling loop.
type Policy struct {
	// Interval is the fixed delay between attempts.
	Interval time.Duration
	// Timeout is the total budget, measured from the first attempt.
	Timeout time.Duration
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = defaultInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	return p
}

// Until calls attempt until it reports done, the policy's timeout elapses, or
// ctx is cancelled. The first attempt runs immediately; n counts attempts from 1.
// The boolean result is false when no attempt succeeded in time.
func Until[T any](ctx context.Context, p Policy, attempt func(ctx context.Context, n int) (T, bool)) (T, bool) {
	p = p.normalized()
	deadline := time.Now().Add(p.Timeout)

	var zero T
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, false
		}

		if v, ok := attempt(ctx, n); ok {
			return v, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, false
		}

		wait := p.Interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return zero, false
		}
	}
}
