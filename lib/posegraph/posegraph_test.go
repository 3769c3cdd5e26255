// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

func identityMeasurement(t *testing.T, robot poseid.RobotID, src, dst int, translation []float64) *measurement.RelativeSEMeasurement {
	t.Helper()
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		r.Set(i, i, 1)
	}
	tv := mat.NewVecDense(3, translation)
	m, err := measurement.New(
		poseid.NewPoseID(robot, poseid.FrameID(src)),
		poseid.NewPoseID(robot, poseid.FrameID(dst)),
		r, tv, 10, 10,
	)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}
	return m
}

// buildLineGraph returns a 4-pose odometry chain with identity
// rotations and a fixed per-edge translation step, for the
// chordal-init round-trip scenario.
func buildLineGraph(t *testing.T) *PoseGraph {
	t.Helper()
	g := New(0, 3)
	for i := 0; i < 3; i++ {
		if err := g.AddMeasurement(identityMeasurement(t, 0, i, i+1, []float64{1, 0, 0})); err != nil {
			t.Fatalf("AddMeasurement: %v", err)
		}
	}
	return g
}

func TestChordalInitializeLineGraphIdentityRotations(t *testing.T) {
	g := buildLineGraph(t)
	anchor := pose.Identity(3)

	trajectory, err := g.ChordalInitialize(anchor)
	if err != nil {
		t.Fatalf("ChordalInitialize: %v", err)
	}
	if len(trajectory) != 4 {
		t.Fatalf("len(trajectory) = %d, want 4", len(trajectory))
	}

	for i, p := range trajectory {
		if err := p.RotationError(); err > 1e-6 {
			t.Fatalf("pose %d rotation error = %v, want ~0", i, err)
		}
		want := float64(i)
		tr := p.Translation()
		if math.Abs(tr.AtVec(0)-want) > 1e-6 || math.Abs(tr.AtVec(1)) > 1e-6 || math.Abs(tr.AtVec(2)) > 1e-6 {
			t.Fatalf("pose %d translation = %v, want (%v,0,0)", i, mat.Formatted(tr.T()), want)
		}
	}
}

func TestQIsSymmetric(t *testing.T) {
	g := buildLineGraph(t)
	q, _ := g.QAndG()
	n, _ := q.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if q.At(i, j) != q.At(j, i) {
				t.Fatalf("Q(%d,%d)=%v != Q(%d,%d)=%v", i, j, q.At(i, j), j, i, q.At(j, i))
			}
		}
	}
}

func TestConsistentTrajectoryHasNearZeroCost(t *testing.T) {
	g := buildLineGraph(t)
	q, _ := g.QAndG()

	// Build the lifted pose array (r=d=3) from the ground-truth
	// trajectory used to generate the line graph's measurements: poses
	// at (0,0,0),(1,0,0),(2,0,0),(3,0,0) with identity rotations.
	x := pose.NewLiftedPoseArray(3, 3, 4)
	for i := 0; i < 4; i++ {
		block := x.Pose(i)
		for k := 0; k < 3; k++ {
			block.Frame().Set(k, k, 1)
		}
		block.Translation().SetVec(0, float64(i))
	}

	var xq mat.Dense
	xq.Mul(x.Data, q)
	var xqxt mat.Dense
	xqxt.Mul(&xq, x.Data.T())

	cost := mat.Trace(&xqxt)
	if cost > 1e-6 {
		t.Fatalf("tr(X Q X^T) = %v, want ~0 for a perfectly consistent trajectory", cost)
	}
}

func TestMyPublicPoseIDsAndNeighborIndex(t *testing.T) {
	g := New(0, 3)
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		r.Set(i, i, 1)
	}
	tv := mat.NewVecDense(3, []float64{0, 0, 0})
	shared, err := measurement.New(
		poseid.NewPoseID(0, 2),
		poseid.NewPoseID(1, 5),
		r, tv, 10, 10,
	)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}
	if err := g.AddMeasurement(identityMeasurement(t, 0, 0, 1, []float64{1, 0, 0})); err != nil {
		t.Fatalf("AddMeasurement: %v", err)
	}
	if err := g.AddMeasurement(identityMeasurement(t, 0, 1, 2, []float64{1, 0, 0})); err != nil {
		t.Fatalf("AddMeasurement: %v", err)
	}
	if err := g.AddMeasurement(shared); err != nil {
		t.Fatalf("AddMeasurement(shared): %v", err)
	}

	pub := g.MyPublicPoseIDs()
	if len(pub) != 1 || pub[0] != poseid.NewPoseID(0, 2) {
		t.Fatalf("MyPublicPoseIDs() = %v, want [0.2]", pub)
	}

	idx, ok := g.NeighborIndex(poseid.NewPoseID(1, 5))
	if !ok || idx != 0 {
		t.Fatalf("NeighborIndex(1.5) = (%d,%v), want (0,true)", idx, ok)
	}
	if g.NumNeighborPoses() != 1 {
		t.Fatalf("NumNeighborPoses() = %d, want 1", g.NumNeighborPoses())
	}
}

func TestQAndGCacheInvalidatesOnAddMeasurement(t *testing.T) {
	g := buildLineGraph(t)
	q1, _ := g.QAndG()
	before := q1.At(0, 0)

	if err := g.AddMeasurement(identityMeasurement(t, 0, 3, 0, []float64{-3, 0, 0})); err != nil {
		t.Fatalf("AddMeasurement: %v", err)
	}
	q2, _ := g.QAndG()
	after := q2.At(0, 0)

	// Pose 0 now additionally closes the loop back to itself as a
	// head, so its rotation-degree diagonal term gains another
	// kappa*I_d contribution.
	if after <= before {
		t.Fatalf("Q(0,0) after closing the loop = %v, want > %v (unchanged, stale cache)", after, before)
	}
}
