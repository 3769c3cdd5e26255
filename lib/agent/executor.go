// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/distributed-pgo/dpgo/lib/clock"
)

// RunExecutor runs this agent's stochastic optimization loop: it
// sleeps for an exponentially distributed interval with the given
// rate (Hz), then calls Iterate(true), repeating until ctx is
// cancelled or EndExecutor is called. The sleep is the only
// suspension point in the loop; Iterate itself never suspends.
//
// Acceleration and the background executor are mutually exclusive:
// acceleration only ever turns on for a team of more than one robot,
// so RunExecutor panics if called on a multi-robot agent.
//
// At most one RunExecutor call should run on a given agent at a time;
// nothing guards against two overlapping, since nothing else in this
// package needs to.
func (a *Agent) RunExecutor(ctx context.Context, rate float64, clk clock.Clock) {
	if a.teamSize > 1 {
		panic("agent: RunExecutor requires a single-robot team; acceleration and the background executor are mutually exclusive")
	}
	if rate <= 0 {
		panic(fmt.Sprintf("agent: RunExecutor requires a positive rate, got %v", rate))
	}
	if clk == nil {
		clk = clock.Real()
	}

	atomic.StoreInt32(&a.endLoopRequested, 0)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		interval := time.Duration(rand.ExpFloat64() / rate * float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}

		a.Iterate(true)

		if atomic.LoadInt32(&a.endLoopRequested) != 0 {
			return
		}
	}
}

// EndExecutor requests that a running RunExecutor loop stop after its
// current tick. It does not block for the loop to actually exit; the
// caller should also cancel the context RunExecutor was given, or rely
// on this flag alone if no context was threaded through.
func (a *Agent) EndExecutor() {
	atomic.StoreInt32(&a.endLoopRequested, 1)
}
