// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/agentconfig"
	"github.com/distributed-pgo/dpgo/lib/clock"
	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

func identity2D() (*mat.Dense, *mat.VecDense) {
	return mat.NewDense(2, 2, []float64{1, 0, 0, 1}), mat.NewVecDense(2, []float64{1, 0})
}

func newTestAgent(t *testing.T, teamSize int) *Agent {
	t.Helper()
	cfg := agentconfig.Default()
	a, err := New(0, 2, 2, teamSize, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRejectsRankBelowDimension(t *testing.T) {
	if _, err := New(0, 1, 2, 1, agentconfig.Default(), nil); err == nil {
		t.Fatalf("New: expected an error for rank < dimension")
	}
}

func TestNewRejectsNonPositiveTeamSize(t *testing.T) {
	if _, err := New(0, 2, 2, 0, agentconfig.Default(), nil); err == nil {
		t.Fatalf("New: expected an error for a non-positive team size")
	}
}

func TestAgentStartsInWaitForData(t *testing.T) {
	a := newTestAgent(t, 1)
	if a.State() != wire.WaitForData {
		t.Fatalf("State() = %v, want WAIT_FOR_DATA", a.State())
	}
}

func threePoseLine(t *testing.T) []*measurement.RelativeSEMeasurement {
	t.Helper()
	r, tr := identity2D()
	m1, err := measurement.New(poseid.NewPoseID(0, 0), poseid.NewPoseID(0, 1), r, tr, 1000, 1000)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}
	m1.FixedWeight = true
	m2, err := measurement.New(poseid.NewPoseID(0, 1), poseid.NewPoseID(0, 2), r, tr, 1000, 1000)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}
	m2.FixedWeight = true
	return []*measurement.RelativeSEMeasurement{m1, m2}
}

func TestSingleRobotInitializeReachesInitialized(t *testing.T) {
	a := newTestAgent(t, 1)
	for _, m := range threePoseLine(t) {
		if err := a.AddMeasurement(m); err != nil {
			t.Fatalf("AddMeasurement: %v", err)
		}
	}
	if err := a.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if a.State() != wire.Initialized {
		t.Fatalf("State() = %v, want INITIALIZED", a.State())
	}
	if n := a.NumPoses(); n != 3 {
		t.Fatalf("NumPoses() = %d, want 3", n)
	}
}

func TestIterateAdvancesIterationCountAndKeepsTrajectoryLength(t *testing.T) {
	a := newTestAgent(t, 1)
	for _, m := range threePoseLine(t) {
		if err := a.AddMeasurement(m); err != nil {
			t.Fatalf("AddMeasurement: %v", err)
		}
	}
	if err := a.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	a.Iterate(true)
	a.Iterate(true)

	if got := a.Stats().IterationsPerformed; got != 2 {
		t.Fatalf("IterationsPerformed = %d, want 2", got)
	}
	traj, ok := a.GetTrajectoryInLocalFrame()
	if !ok {
		t.Fatalf("GetTrajectoryInLocalFrame: expected ok=true after Initialize")
	}
	if len(traj) != 3 {
		t.Fatalf("trajectory length = %d, want 3", len(traj))
	}
	if traj[0].RotationError() > 1e-9 {
		t.Fatalf("first pose should be the identity frame, rotation error %v", traj[0].RotationError())
	}
}

func TestShouldTerminateRequiresEveryKnownNeighborReady(t *testing.T) {
	a := newTestAgent(t, 2)
	for _, m := range threePoseLine(t) {
		if err := a.AddMeasurement(m); err != nil {
			t.Fatalf("AddMeasurement: %v", err)
		}
	}

	a.posesMu.Lock()
	a.status.ReadyToTerminate = true
	a.posesMu.Unlock()

	if a.ShouldTerminate([]poseid.RobotID{1}) {
		t.Fatalf("ShouldTerminate: expected false, neighbor 1 never reported in")
	}

	a.SetNeighborStatus(wire.StatusMessage{AgentID: 1, ReadyToTerminate: true})
	if !a.ShouldTerminate([]poseid.RobotID{1}) {
		t.Fatalf("ShouldTerminate: expected true once every known neighbor is ready")
	}
}

func TestRunExecutorPanicsForMultiRobotTeam(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("RunExecutor: expected a panic for a multi-robot team")
		}
	}()
	a := newTestAgent(t, 2)
	a.RunExecutor(context.Background(), 1, clock.Fake(time.Unix(0, 0)))
}

func TestRunExecutorPanicsForNonPositiveRate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("RunExecutor: expected a panic for a non-positive rate")
		}
	}()
	a := newTestAgent(t, 1)
	a.RunExecutor(context.Background(), 0, clock.Fake(time.Unix(0, 0)))
}

func TestRunExecutorTicksIterateUntilEnded(t *testing.T) {
	a := newTestAgent(t, 1)
	for _, m := range threePoseLine(t) {
		if err := a.AddMeasurement(m); err != nil {
			t.Fatalf("AddMeasurement: %v", err)
		}
	}
	if err := a.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fake := clock.Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.RunExecutor(ctx, 10, fake)
		close(done)
	}()

	// The exponential inter-tick interval is unbounded in principle, so
	// advance by a duration long enough that any draw at this rate
	// fires with overwhelming probability.
	const longAdvance = 1_000_000 * time.Second
	for i := 0; i < 3; i++ {
		fake.WaitForTimers(1)
		fake.Advance(longAdvance)
	}

	// Give RunExecutor's goroutine a chance to observe each tick and
	// register its next sleep before ending the loop.
	fake.WaitForTimers(1)
	a.EndExecutor()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("RunExecutor did not return after EndExecutor/cancel")
	}

	if got := a.Stats().IterationsPerformed; got < 3 {
		t.Fatalf("IterationsPerformed = %d, want at least 3", got)
	}
}
