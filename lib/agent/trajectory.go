// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// GetTrajectoryInLocalFrame returns this robot's own trajectory
// rounded to SE(d), expressed relative to its own first pose: the
// iterate is projected through pose 0's own Stiefel frame rather than
// the team lifting matrix, so the result does not depend on whether
// frame alignment has happened yet. The first pose comes out exactly
// [I | 0]. Returns ok=false outside INITIALIZED.
func (a *Agent) GetTrajectoryInLocalFrame() ([]pose.RigidPose, bool) {
	if a.State() != wire.Initialized {
		return nil, false
	}
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	if a.x == nil || a.x.N() == 0 {
		return nil, false
	}
	ref := a.x.Pose(0).Matrix()
	return unprojectTrajectory(ref, a.x, a.d), true
}

// GetTrajectoryInGlobalFrame returns this robot's trajectory rounded
// to SE(d) and expressed relative to the orchestrator-supplied global
// anchor: the iterate is projected through the anchor's own Stiefel
// frame, and every translation is shifted so the anchor's own
// projected translation lands at the origin. Returns ok=false if no
// anchor has been set, or outside INITIALIZED.
func (a *Agent) GetTrajectoryInGlobalFrame() ([]pose.RigidPose, bool) {
	if a.State() != wire.Initialized {
		return nil, false
	}
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	if a.globalAnchor == nil || a.x == nil {
		return nil, false
	}
	return unprojectTrajectory(a.globalAnchor, a.x, a.d), true
}

// GetPoseInGlobalFrame is GetTrajectoryInGlobalFrame's single-pose
// counterpart, used by a transport that only needs one frame's world
// pose rather than the whole trajectory.
func (a *Agent) GetPoseInGlobalFrame(frame int) (pose.RigidPose, bool) {
	if a.State() != wire.Initialized {
		return pose.RigidPose{}, false
	}
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	if a.globalAnchor == nil || a.x == nil || frame < 0 || frame >= a.x.N() {
		return pose.RigidPose{}, false
	}
	traj := unprojectTrajectory(a.globalAnchor, a.x, a.d)
	return traj[frame], true
}

// unprojectTrajectory rounds every block of x down to SE(d) by
// projecting through ref's own Stiefel frame, then shifts every
// translation so ref's own projected translation lands at the origin.
// ref and x must share the same lifted rank; mismatches are a
// programmer error caught by the caller's own construction, so this
// panics rather than returning an error.
func unprojectTrajectory(ref *mat.Dense, x *pose.LiftedPoseArray, d int) []pose.RigidPose {
	rows, cols := ref.Dims()
	if rows != x.R() || cols != d+1 {
		panic(fmt.Sprintf("agent: reference pose is %dx%d, want %dx%d", rows, cols, x.R(), d+1))
	}
	refFrame := ref.Slice(0, x.R(), 0, d)
	refTranslation := ref.ColView(d)

	var t0 mat.VecDense
	t0.MulVec(refFrame.T(), refTranslation)

	out := make([]pose.RigidPose, x.N())
	for i := 0; i < x.N(); i++ {
		block := x.Pose(i).Matrix()

		var projected mat.Dense
		projected.Mul(refFrame.T(), block)

		rotation := manifold.ProjectToRotationGroup(projected.Slice(0, d, 0, d))

		var translation mat.VecDense
		translation.SubVec(projected.ColView(d), &t0)

		p, err := pose.NewRigidPose(d, rotation, &translation)
		if err != nil {
			panic(fmt.Sprintf("agent: unprojectTrajectory produced invalid pose: %v", err))
		}
		out[i] = p
	}
	return out
}
