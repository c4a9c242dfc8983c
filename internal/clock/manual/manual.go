// Package manual provides a hand-driven clock for deterministic tests of
// rate limiting, retries, windows and deadlines.
package manual

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock only moves when Advance or Sleep is called.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	onStep func(time.Time)
}

// New returns a clock frozen at start.
func New(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now, hook := c.now, c.onStep
	c.mu.Unlock()
	if hook != nil {
		hook(now)
	}
}

// Sleep advances the clock by d instead of blocking.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sleep interrupted: %w", err)
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	c.Advance(d)
	return nil
}

// OnAdvance registers a hook run after every advance.
func (c *Clock) OnAdvance(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStep = fn
}

// Slept returns every duration passed to Sleep so far.
func (c *Clock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}
