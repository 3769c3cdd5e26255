// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package measurement defines RelativeSEMeasurement, the single edge
// type a pose graph is built from, and the classification a robust
// cost assigns to it over the course of GNC reweighting.
package measurement

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// Classification records a GNC-driven accept/reject decision for an
// edge.
type Classification int

const (
	// Undecided means the edge's weight has not crossed either
	// threshold yet.
	Undecided Classification = iota
	// Accepted means the edge's weight exceeded 1 - epsilonAccept.
	Accepted
	// Rejected means the edge's weight fell below epsilonReject.
	Rejected
)

func (c Classification) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "undecided"
	}
}

// RelativeSEMeasurement is a single relative-pose edge between two
// poses, possibly on different robots.
type RelativeSEMeasurement struct {
	Src, Dst PoseID

	// R, T are the raw measurement: R in SO(d), T in R^d.
	R *mat.Dense   // d x d
	T *mat.VecDense // d

	// Kappa, Tau are precisions derived from the measurement's
	// information matrix: kappa = d/(2*tr(SigmaR)), tau = d/tr(SigmaT).
	Kappa, Tau float64

	// Weight is the current GNC reweighting factor, in [0,1].
	// Weight == 1 for an edge treated as a full inlier.
	Weight float64

	// FixedWeight pins Weight so robust reweighting never touches it
	// (used for odometry edges i -> i+1).
	FixedWeight bool

	// KnownInlier disables reweighting entirely for this edge, as
	// distinct from FixedWeight: Classify always marks a KnownInlier
	// edge Accepted, whatever its weight.
	KnownInlier bool

	// Class records the GNC accept/reject decision.
	Class Classification
}

// PoseID is a local alias so callers of this package do not need to
// also import lib/poseid for the common case of building edges.
type PoseID = poseid.PoseID

// New constructs a RelativeSEMeasurement with Weight initialized to 1
// (treated as an inlier until reweighted).
func New(src, dst PoseID, r *mat.Dense, t *mat.VecDense, kappa, tau float64) (*RelativeSEMeasurement, error) {
	rows, cols := r.Dims()
	if rows != cols {
		return nil, fmt.Errorf("measurement: rotation block is %dx%d, must be square", rows, cols)
	}
	if t.Len() != rows {
		return nil, fmt.Errorf("measurement: translation has length %d, want %d", t.Len(), rows)
	}
	return &RelativeSEMeasurement{
		Src:    src,
		Dst:    dst,
		R:      r,
		T:      t,
		Kappa:  kappa,
		Tau:    tau,
		Weight: 1,
	}, nil
}

// D returns the ambient rotation dimension of the measurement.
func (m *RelativeSEMeasurement) D() int {
	rows, _ := m.R.Dims()
	return rows
}

// IsInterRobot reports whether the two endpoints are on different
// robots — the defining property of a shared loop closure.
func (m *RelativeSEMeasurement) IsInterRobot() bool {
	return m.Src.RobotID != m.Dst.RobotID
}

// IsOdometry reports whether the measurement connects consecutive
// frames on the same robot.
func (m *RelativeSEMeasurement) IsOdometry() bool {
	return !m.IsInterRobot() && m.Dst.FrameID == m.Src.FrameID+1
}

// PrecisionFromCovariance computes (kappa, tau) from rotation and
// translation covariance matrices: kappa = d/(2*tr(SigmaR)), tau =
// d/tr(SigmaT).
func PrecisionFromCovariance(d int, sigmaR, sigmaT mat.Symmetric) (kappa, tau float64) {
	trR, trT := 0.0, 0.0
	for i := 0; i < d; i++ {
		trR += sigmaR.At(i, i)
		trT += sigmaT.At(i, i)
	}
	return float64(d) / (2 * trR), float64(d) / trT
}
