// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/distributed-pgo/dpgo/lib/agentconfig"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

func TestBlockBoundsSplitsAsEvenlyAsPossible(t *testing.T) {
	got := blockBounds(50, 3)
	want := []int{0, 17, 34, 50}
	if len(got) != len(want) {
		t.Fatalf("blockBounds length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("blockBounds(50, 3) = %v, want %v", got, want)
		}
	}
}

func TestBlockBoundsSingleRobotOwnsEverything(t *testing.T) {
	got := blockBounds(10, 1)
	want := []int{0, 10}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("blockBounds(10, 1) = %v, want %v", got, want)
	}
}

func TestSynthesizeLineHasNoLoopClosure(t *testing.T) {
	edges, err := synthesize("line", 10, 3)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(edges) != 9 {
		t.Fatalf("len(edges) = %d, want 9 (pure odometry chain)", len(edges))
	}
}

func TestSynthesizeLoopAddsOneClosureEdge(t *testing.T) {
	edges, err := synthesize("loop", 10, 3)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(edges) != 10 {
		t.Fatalf("len(edges) = %d, want 10 (9 odometry + 1 closure)", len(edges))
	}
	closure := edges[len(edges)-1]
	if closure.Src.FrameID != 9 || closure.Dst.FrameID != 0 {
		t.Fatalf("closure edge = %+v, want src frame 9, dst frame 0", closure)
	}
}

func TestSynthesizeRejectsBadInputs(t *testing.T) {
	if _, err := synthesize("line", 1, 3); err == nil {
		t.Fatalf("synthesize: expected an error for fewer than 2 poses")
	}
	if _, err := synthesize("line", 10, 4); err == nil {
		t.Fatalf("synthesize: expected an error for an unsupported dimension")
	}
}

func TestPartitionSplitsOdometryChainAcrossRobots(t *testing.T) {
	edges, err := synthesize("line", 10, 3)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	got := partition(edges, 10, 2)

	if got.numPoses[0] != 5 || got.numPoses[1] != 5 {
		t.Fatalf("numPoses = %v, want 5/5", got.numPoses)
	}
	// Frame 4 -> frame 5 straddles the boundary between the two blocks,
	// so it must appear as a shared edge addressed into both robots.
	total := len(got.measurements[0]) + len(got.measurements[1])
	if total != len(edges)+1 {
		t.Fatalf("total measurement count = %d, want %d (one edge duplicated across the boundary)", total, len(edges)+1)
	}
}

func TestSimulateTeamConvergesOnASmallSyntheticLoop(t *testing.T) {
	edges, err := synthesize("loop", 12, 3)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	tm := partition(edges, 12, 3)

	cfg := agentconfig.Default()
	cfg.MaxNumIters = 200
	if err := cfg.Validate(); err != nil {
		t.Fatalf("cfg.Validate: %v", err)
	}

	result, err := simulateTeam(tm, 5, 3, 3, cfg, nil)
	if err != nil {
		t.Fatalf("simulateTeam: %v", err)
	}
	for b := 0; b < 3; b++ {
		traj, ok := result.trajectories[poseid.RobotID(b)]
		if !ok {
			t.Fatalf("robot %d: missing trajectory", b)
		}
		if len(traj) != tm.numPoses[poseid.RobotID(b)] {
			t.Fatalf("robot %d: trajectory length = %d, want %d", b, len(traj), tm.numPoses[poseid.RobotID(b)])
		}
	}
	if result.rounds == 0 {
		t.Fatalf("simulateTeam: expected at least one round to run")
	}
}
