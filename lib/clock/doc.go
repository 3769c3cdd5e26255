// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the single timing primitive Agent.RunExecutor
// needs: a channel that fires once after an exponentially distributed
// inter-tick interval elapses. Real() wraps the time package for
// production use; Fake() gives tests a clock that only advances when
// told to, so a Poisson-process executor loop can be driven through
// many ticks without actually sleeping.
//
// # Wiring Pattern
//
// RunExecutor takes a Clock parameter directly rather than storing one
// on Agent, since acceleration and the background executor are
// mutually exclusive and nothing else in the agent needs to see time:
//
//	func (a *Agent) RunExecutor(ctx context.Context, rate float64, clk clock.Clock) {
//	    if clk == nil {
//	        clk = clock.Real()
//	    }
//	    // ...
//	}
//
// In tests:
//
//	fake := clock.Fake(time.Unix(0, 0))
//	go a.RunExecutor(ctx, rate, fake)
//	fake.WaitForTimers(1)        // wait for the next interval to be drawn
//	fake.Advance(longEnough)     // fire it deterministically
//
// # FakeClock Synchronization
//
// Each call to After registers a pending waiter. Use WaitForTimers to
// block until the executor goroutine has drawn its next interval and
// is parked on the resulting channel before calling Advance — this
// eliminates the race between interval registration and time
// advancement that plagues tests synchronized with time.Sleep alone.
package clock
