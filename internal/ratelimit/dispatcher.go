// Package ratelimit provides the single process-wide gate that every
// outbound venue call passes through.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRate is the venue request budget in requests per second.
const DefaultRate = 8.0

// Dispatcher admits one caller per 1/maxRate interval. It never retries;
// retry policy belongs to callers.
type Dispatcher struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	lastCall time.Time
	calls    int64
	observe  func(time.Time)
}

// NewDispatcher returns a gate admitting maxRate calls per second. A
// non-positive rate falls back to DefaultRate.
func NewDispatcher(maxRate float64) *Dispatcher {
	if maxRate <= 0 {
		maxRate = DefaultRate
	}
	return &Dispatcher{
		limiter:  rate.NewLimiter(rate.Limit(maxRate), 1),
		interval: time.Duration(float64(time.Second) / maxRate),
	}
}

// Acquire blocks until the caller may issue one request. The limiter
// orders waiters; the mutex only guards the admission check, so a queued
// caller sees its own ctx cancellation while it waits.
func (d *Dispatcher) Acquire(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire: %w", err)
	}
	// Timer wake-ups can be early by a few microseconds relative to the
	// limiter's own clock; hold the line on the wall-clock interval too.
	for {
		wait, ok := d.admit(time.Now())
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("ratelimit: acquire: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// admit records a call at now unless the previous one was less than an
// interval ago, in which case it returns the remaining gap.
func (d *Dispatcher) admit(now time.Time) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastCall.IsZero() {
		if gap := now.Sub(d.lastCall); gap < d.interval {
			return d.interval - gap, false
		}
	}
	d.lastCall = now
	d.calls++
	if d.observe != nil {
		d.observe(now)
	}
	return 0, true
}

// Interval returns the minimum spacing between permitted calls.
func (d *Dispatcher) Interval() time.Duration { return d.interval }

// Calls returns how many calls have been admitted.
func (d *Dispatcher) Calls() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
