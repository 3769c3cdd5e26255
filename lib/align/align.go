// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package align implements robust multi-robot frame alignment: for
// each shared loop closure to a neighbor whose pose is already known
// in the team's global frame, a candidate transform mapping this
// robot's local frame into the global frame is computed by
// neighbor-transform voting, then the candidates are robustly
// averaged by one of two strategies.
package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// robustAveragingKappa and robustAveragingTau are the empirical
// rotation/translation precisions used by one-stage robust pose
// averaging. They are not derived from any measurement's information
// matrix; they are tunables carried over from the originating
// implementation and flagged here, not in the surrounding arithmetic.
const (
	robustAveragingKappa = 1.82
	robustAveragingTau   = 0.01
)

// AngularToChordal converts an angular distance (radians) to the
// corresponding Frobenius chordal distance between two rotations:
// 2*sqrt(2)*sin(theta/2).
func AngularToChordal(rad float64) float64 {
	return 2 * math.Sqrt2 * math.Sin(rad/2)
}

// chiSquaredQuantile90 returns the 0.9 quantile of a chi-squared
// distribution with dof degrees of freedom, the inlier threshold
// cbar used by one-stage robust pose averaging.
func chiSquaredQuantile90(dof float64) float64 {
	return distuv.ChiSquared{K: dof}.Quantile(0.9)
}

// Unlift recovers a RigidPose in SO(d)/R^d from a lifted pose, given
// the team's r x d Stiefel lifting matrix: since lifted poses are
// constructed as YLift*[R|t], and YLift has orthonormal columns,
// R = YLift^T * Y (rounded defensively onto SO(d)) and t = YLift^T * p.
func Unlift(liftingMatrix *mat.Dense, lifted pose.LiftedPose) pose.RigidPose {
	d := lifted.D()

	var r mat.Dense
	r.Mul(liftingMatrix.T(), lifted.Frame())
	rounded := manifold.ProjectToRotationGroup(&r)

	var t mat.VecDense
	t.MulVec(liftingMatrix.T(), lifted.Translation())

	out, err := pose.NewRigidPose(d, rounded, &t)
	if err != nil {
		panic(fmt.Sprintf("align: Unlift produced invalid pose: %v", err))
	}
	return out
}

// Candidate is one shared-edge vote for this robot's world-frame
// transform.
type Candidate struct {
	Edge poseid.EdgeID
	T    pose.RigidPose
}

// NeighborWorldPose resolves a neighbor PoseID to its pose already
// expressed in the team's global frame.
type NeighborWorldPose func(id poseid.PoseID) (pose.RigidPose, bool)

// ComputeCandidates builds one candidate world-frame transform per
// shared loop closure, per the neighbor-transform-voting formula:
// for an edge with own endpoint as tail, T_world_robot = T_world_j *
// T_dR^-1 * T_local_i^-1; for own endpoint as head, T_world_robot =
// T_world_i * T_dR * T_local_j^-1. localPose resolves an own FrameID
// to its pose in this robot's local (un-aligned) frame.
func ComputeCandidates(ownID poseid.RobotID, sharedLoopClosures []*measurement.RelativeSEMeasurement, localPose func(poseid.FrameID) (pose.RigidPose, bool), neighborWorldPose NeighborWorldPose) []Candidate {
	var out []Candidate
	for _, m := range sharedLoopClosures {
		tdr, err := pose.NewRigidPose(m.D(), m.R, m.T)
		if err != nil {
			continue
		}

		if m.Src.RobotID == ownID {
			localI, ok := localPose(m.Src.FrameID)
			if !ok {
				continue
			}
			worldJ, ok := neighborWorldPose(m.Dst)
			if !ok {
				continue
			}
			t := worldJ.Compose(tdr.Inverse()).Compose(localI.Inverse())
			out = append(out, Candidate{Edge: poseid.EdgeID{Src: m.Src, Dst: m.Dst}, T: t})
			continue
		}

		// Own endpoint is the head.
		localJ, ok := localPose(m.Dst.FrameID)
		if !ok {
			continue
		}
		worldI, ok := neighborWorldPose(m.Src)
		if !ok {
			continue
		}
		t := worldI.Compose(tdr).Compose(localJ.Inverse())
		out = append(out, Candidate{Edge: poseid.EdgeID{Src: m.Src, Dst: m.Dst}, T: t})
	}
	return out
}

// Result is the outcome of a robust-averaging pass: the averaged
// transform plus which candidates were kept as inliers.
type Result struct {
	T       pose.RigidPose
	Inliers []bool
}

// NumInliers counts the true entries of r.Inliers.
func (r Result) NumInliers() int {
	n := 0
	for _, ok := range r.Inliers {
		if ok {
			n++
		}
	}
	return n
}

// TwoStageAverage runs the two-stage frame-alignment strategy: robust
// single-rotation averaging with a ~30 degree chordal inlier
// threshold, then translation averaging over the inliers as the mean.
func TwoStageAverage(candidates []Candidate) Result {
	d := candidates[0].T.D()
	threshold := AngularToChordal(0.5)

	rotations := make([]*mat.Dense, len(candidates))
	for i, c := range candidates {
		rotations[i] = c.T.Rotation()
	}
	meanR, inliers := robustRotationAverage(rotations, threshold)

	sum := mat.NewVecDense(d, nil)
	n := 0
	for i, ok := range inliers {
		if !ok {
			continue
		}
		sum.AddVec(sum, candidates[i].T.Translation())
		n++
	}
	if n > 0 {
		sum.ScaleVec(1/float64(n), sum)
	}

	out, err := pose.NewRigidPose(d, meanR, sum)
	if err != nil {
		panic(fmt.Sprintf("align: TwoStageAverage produced invalid pose: %v", err))
	}
	return Result{T: out, Inliers: inliers}
}

// robustRotationAverage iteratively computes the chordal mean
// rotation, discarding candidates whose chordal distance to the
// current mean exceeds threshold, for a small fixed number of
// refinement rounds.
func robustRotationAverage(rotations []*mat.Dense, threshold float64) (*mat.Dense, []bool) {
	d, _ := rotations[0].Dims()
	inliers := make([]bool, len(rotations))
	for i := range inliers {
		inliers[i] = true
	}

	mean := chordalMean(rotations, inliers, d)
	for round := 0; round < 3; round++ {
		changed := false
		for i, r := range rotations {
			dist := chordalDistance(r, mean)
			ok := dist <= threshold
			if ok != inliers[i] {
				changed = true
			}
			inliers[i] = ok
		}
		mean = chordalMean(rotations, inliers, d)
		if !changed {
			break
		}
	}
	return mean, inliers
}

func chordalMean(rotations []*mat.Dense, mask []bool, d int) *mat.Dense {
	sum := mat.NewDense(d, d, nil)
	n := 0
	for i, r := range rotations {
		if !mask[i] {
			continue
		}
		sum.Add(sum, r)
		n++
	}
	if n == 0 {
		return manifold.ProjectToRotationGroup(rotations[0])
	}
	return manifold.ProjectToRotationGroup(sum)
}

func chordalDistance(a, b *mat.Dense) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}

// OneStageAverage runs the one-stage robust single-pose-averaging
// strategy: each candidate is treated as a measurement of the
// averaged transform with fixed empirical precisions
// (robustAveragingKappa, robustAveragingTau), iteratively reweighted,
// with membership decided by the chi-squared(3) 0.9 quantile
// threshold on the combined residual.
func OneStageAverage(candidates []Candidate) Result {
	d := candidates[0].T.D()
	cbar := chiSquaredQuantile90(3)

	mean := candidates[0].T
	inliers := make([]bool, len(candidates))

	for round := 0; round < 5; round++ {
		rSum := mat.NewDense(d, d, nil)
		tSum := mat.NewVecDense(d, nil)
		n := 0

		for i, c := range candidates {
			rotErrSq := squaredFrobenius(c.T.Rotation(), mean.Rotation())
			var tDiff mat.VecDense
			tDiff.SubVec(c.T.Translation(), mean.Translation())
			transErrSq := mat.Dot(&tDiff, &tDiff)

			residual := robustAveragingKappa*rotErrSq + robustAveragingTau*transErrSq
			inliers[i] = residual <= cbar
			if !inliers[i] {
				continue
			}
			rSum.Add(rSum, c.T.Rotation())
			tSum.AddVec(tSum, c.T.Translation())
			n++
		}
		if n == 0 {
			break
		}
		tSum.ScaleVec(1/float64(n), tSum)
		newMean, err := pose.NewRigidPose(d, manifold.ProjectToRotationGroup(rSum), tSum)
		if err != nil {
			panic(fmt.Sprintf("align: OneStageAverage produced invalid pose: %v", err))
		}
		mean = newMean
	}

	return Result{T: mean, Inliers: inliers}
}

func squaredFrobenius(a, b *mat.Dense) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	n := mat.Norm(&diff, 2)
	return n * n
}
