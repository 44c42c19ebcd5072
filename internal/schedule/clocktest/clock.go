// Package clocktest provides a manually controlled clock for tests.
package clocktest

import (
	"sync"
	"time"
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Clock is a fake schedule.Clock. Time only moves when told to.
type Clock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	err     error
	waiters []waiter
}

func New(now time.Time) *Clock {
	c := &Clock{now: now}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time, or the error set with Fail.
func (c *Clock) Now() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return time.Time{}, c.err
	}
	return c.now, nil
}

// After returns a channel that receives once the clock was moved d ahead.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}

	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(c.now.Add(d))
}

// Set moves the clock to t, t may be in the past.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(t)
}

func (c *Clock) set(t time.Time) {
	c.now = t

	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if t.Before(w.at) {
			pending = append(pending, w)
			continue
		}
		w.ch <- t
	}
	c.waiters = pending
}

// Fail makes all following calls to Now return err.
func (c *Clock) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = err
}

// BlockUntil blocks until at least n callers are waiting on channels from After.
func (c *Clock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

// Waiting returns the durations, relative to now, of all pending After calls.
func (c *Clock) Waiting() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, 0, len(c.waiters))
	for _, w := range c.waiters {
		out = append(out, w.at.Sub(c.now))
	}
	return out
}
