// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package align

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

func rotation2D(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(2, 2, []float64{c, -s, s, c})
}

func TestUnliftRecoversExactPoseUnderIdentityLift(t *testing.T) {
	lift := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	r := rotation2D(math.Pi / 6)
	tr := mat.NewVecDense(2, []float64{1, 2})

	block := mat.NewDense(2, 3, nil)
	block.Slice(0, 2, 0, 2).(*mat.Dense).Copy(r)
	block.Set(0, 2, tr.AtVec(0))
	block.Set(1, 2, tr.AtVec(1))
	lp, err := pose.NewLiftedPose(2, 2, block)
	if err != nil {
		t.Fatalf("NewLiftedPose: %v", err)
	}

	got := Unlift(lift, lp)
	if got.RotationError() > 1e-9 {
		t.Fatalf("RotationError = %v, want ~0", got.RotationError())
	}
	var diff mat.Dense
	diff.Sub(got.Rotation(), r)
	if mat.Norm(&diff, 2) > 1e-9 {
		t.Fatalf("recovered rotation differs from original by %v", mat.Norm(&diff, 2))
	}
}

func TestComputeCandidatesTailEndpointRecomposesNeighborPose(t *testing.T) {
	r := rotation2D(math.Pi / 2)
	tv := mat.NewVecDense(2, []float64{1, 0})
	edgeIJ, err := measurement.New(poseid.NewPoseID(0, 0), poseid.NewPoseID(1, 0), r, tv, 1, 1)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}

	localI := pose.Identity(2)
	worldJ, err := pose.NewRigidPose(2, rotation2D(math.Pi/2), mat.NewVecDense(2, []float64{5, 5}))
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}

	localPose := func(f poseid.FrameID) (pose.RigidPose, bool) {
		if f == 0 {
			return localI, true
		}
		return pose.RigidPose{}, false
	}
	neighborWorld := func(id poseid.PoseID) (pose.RigidPose, bool) {
		if id == poseid.NewPoseID(1, 0) {
			return worldJ, true
		}
		return pose.RigidPose{}, false
	}

	cands := ComputeCandidates(poseid.RobotID(0), []*measurement.RelativeSEMeasurement{edgeIJ}, localPose, neighborWorld)
	if len(cands) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(cands))
	}

	// T_world_robot * local_i * T_dR should equal world_j exactly.
	recomposed := cands[0].T.Compose(localI).Compose(rigidFromMeasurement(t, edgeIJ))
	var diff mat.Dense
	diff.Sub(recomposed.Matrix(), worldJ.Matrix())
	if mat.Norm(&diff, 2) > 1e-9 {
		t.Fatalf("recomposed world pose differs from worldJ by %v", mat.Norm(&diff, 2))
	}
}

func rigidFromMeasurement(t *testing.T, m *measurement.RelativeSEMeasurement) pose.RigidPose {
	t.Helper()
	p, err := pose.NewRigidPose(m.D(), m.R, m.T)
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}
	return p
}

func TestTwoStageAverageDiscardsOutlier(t *testing.T) {
	good := pose.Identity(2)
	goodNear, err := pose.NewRigidPose(2, rotation2D(0.01), mat.NewVecDense(2, []float64{0.01, -0.01}))
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}
	outlier, err := pose.NewRigidPose(2, rotation2D(math.Pi), mat.NewVecDense(2, []float64{50, 50}))
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}

	cands := []Candidate{{T: good}, {T: goodNear}, {T: outlier}}
	result := TwoStageAverage(cands)

	if result.Inliers[2] {
		t.Fatalf("outlier candidate classified as inlier")
	}
	if !result.Inliers[0] || !result.Inliers[1] {
		t.Fatalf("good candidates not classified as inliers: %v", result.Inliers)
	}
	if result.T.RotationError() > 1e-6 {
		t.Fatalf("averaged rotation error = %v, want ~0", result.T.RotationError())
	}
}

func TestOneStageAverageDiscardsOutlier(t *testing.T) {
	good := pose.Identity(2)
	goodNear, err := pose.NewRigidPose(2, rotation2D(0.01), mat.NewVecDense(2, []float64{0.01, -0.01}))
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}
	outlier, err := pose.NewRigidPose(2, rotation2D(math.Pi), mat.NewVecDense(2, []float64{50, 50}))
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}

	cands := []Candidate{{T: good}, {T: goodNear}, {T: outlier}}
	result := OneStageAverage(cands)

	if result.Inliers[2] {
		t.Fatalf("outlier candidate classified as inlier")
	}
	if result.NumInliers() != 2 {
		t.Fatalf("NumInliers = %d, want 2", result.NumInliers())
	}
}

func TestAngularToChordalMatchesKnownValues(t *testing.T) {
	if got := AngularToChordal(0); math.Abs(got) > 1e-9 {
		t.Fatalf("AngularToChordal(0) = %v, want 0", got)
	}
	got := AngularToChordal(math.Pi)
	want := 2 * math.Sqrt2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("AngularToChordal(pi) = %v, want %v", got, want)
	}
}
