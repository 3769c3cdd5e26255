// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. RunExecutor's test harness uses this
// to drive many simulated exponential ticks deterministically instead
// of waiting on wall-clock time for each one.
//
// FakeClock is safe for concurrent use by multiple goroutines: the
// executor goroutine calls After while the test goroutine calls
// WaitForTimers and Advance.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.waitersChanged = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called; a call to After registers a pending waiter
// that fires once the clock passes its deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is one pending After call: RunExecutor's next exponential
// inter-tick interval, parked on a channel until Advance passes it.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// fired is set once the waiter has delivered, so a second Advance
	// call that overlaps the same deadline does not double-send.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter — RunExecutor never draws a non-positive interval, but this
// keeps the fake's boundary behavior matching time.After's.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// Advance moves the clock forward by d and delivers every pending
// waiter whose deadline now falls at or before the new time, in
// deadline order. Each waiter fires at most once; the send is
// non-blocking, so a channel nobody is reading from is simply skipped
// rather than deadlocking the call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var toFire []*fakeWaiter
	var remaining []*fakeWaiter
	for _, w := range c.waiters {
		if !w.fired && !w.deadline.After(target) {
			toFire = append(toFire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool {
		return toFire[i].deadline.Before(toFire[j].deadline)
	})
	for _, w := range toFire {
		w.fired = true
		select {
		case w.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n calls to After are pending and
// unfired — i.e. until RunExecutor's goroutine has drawn its next
// exponential interval and is parked on the resulting channel. This
// closes the race between that goroutine registering its wait and the
// test calling Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of registered waiters that have not
// yet fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, w := range c.waiters {
		if !w.fired {
			count++
		}
	}
	return count
}
