// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/align"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// UpdateNeighborPoses feeds one neighbor's published public-pose
// snapshot into this agent's neighbor cache. If the agent is waiting
// for initialization, a robust frame alignment pass is attempted
// immediately afterward.
func (a *Agent) UpdateNeighborPoses(dict wire.PoseDict) error {
	a.neighborPosesMu.Lock()
	for id, block := range dict {
		a.neighborPoseDict[id] = block
	}
	a.neighborPosesMu.Unlock()

	a.posesMu.Lock()
	a.stats.PosesReceived += len(dict)
	a.posesMu.Unlock()

	if a.State() == wire.WaitForInitialization {
		a.tryAlignment()
	}
	return nil
}

// UpdateAuxNeighborPoses feeds one neighbor's auxiliary (Y)
// public-pose snapshot into this agent's neighbor cache, used by the
// accelerated update's own local optimization of Y against fixed
// neighbor Y values.
func (a *Agent) UpdateAuxNeighborPoses(dict wire.PoseDict) error {
	a.neighborPosesMu.Lock()
	defer a.neighborPosesMu.Unlock()
	for id, block := range dict {
		a.neighborAuxPoseDict[id] = block
	}
	return nil
}

// GetSharedPoseDict returns this robot's own public poses (the
// current X), keyed by PoseID, for publication to neighbors.
func (a *Agent) GetSharedPoseDict() wire.PoseDict {
	a.measurementsMu.Lock()
	publicIDs := a.graph.MyPublicPoseIDs()
	a.measurementsMu.Unlock()

	// publicIDs is read before poses so the two locks are never held
	// at once, keeping this consistent with the poses -> measurements
	// -> neighborPoses acquisition order elsewhere in the package.
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	out := make(wire.PoseDict, len(publicIDs))
	if a.x == nil {
		return out
	}
	for _, id := range publicIDs {
		block := a.x.Pose(int(id.FrameID))
		out[id] = mat.DenseCopyOf(block.Matrix())
	}
	return out
}

// GetAuxSharedPoseDict is GetSharedPoseDict's counterpart for the
// accelerated update's auxiliary array Y.
func (a *Agent) GetAuxSharedPoseDict() wire.PoseDict {
	a.measurementsMu.Lock()
	publicIDs := a.graph.MyPublicPoseIDs()
	a.measurementsMu.Unlock()

	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	out := make(wire.PoseDict, len(publicIDs))
	if a.y == nil {
		return out
	}
	for _, id := range publicIDs {
		block := a.y.Pose(int(id.FrameID))
		out[id] = mat.DenseCopyOf(block.Matrix())
	}
	return out
}

// tryAlignment attempts robust multi-robot frame alignment using
// whatever neighbor poses have been received so far. On success, the
// local iterate is re-lifted in the world frame and the agent
// transitions to INITIALIZED; on failure (too few inliers), it
// remains in WAIT_FOR_INITIALIZATION for a retry on the next neighbor
// update.
func (a *Agent) tryAlignment() {
	a.measurementsMu.Lock()
	shared := a.graph.SharedLoopClosures()
	a.measurementsMu.Unlock()
	if len(shared) == 0 {
		return
	}

	a.posesMu.Lock()
	lift := a.liftingMatrix
	trajectory := a.localTrajectory
	a.posesMu.Unlock()
	if lift == nil || trajectory == nil {
		return
	}

	localPose := func(f poseid.FrameID) (pose.RigidPose, bool) {
		if int(f) < 0 || int(f) >= len(trajectory) {
			return pose.RigidPose{}, false
		}
		return trajectory[f], true
	}

	a.neighborPosesMu.Lock()
	neighborSnapshot := make(map[poseid.PoseID]*mat.Dense, len(a.neighborPoseDict))
	for id, block := range a.neighborPoseDict {
		neighborSnapshot[id] = block
	}
	a.neighborPosesMu.Unlock()

	neighborWorldPose := func(id poseid.PoseID) (pose.RigidPose, bool) {
		block, ok := neighborSnapshot[id]
		if !ok {
			return pose.RigidPose{}, false
		}
		lp, err := pose.NewLiftedPose(a.r, a.d, block)
		if err != nil {
			return pose.RigidPose{}, false
		}
		return align.Unlift(lift, lp), true
	}

	candidates := align.ComputeCandidates(a.id, shared, localPose, neighborWorldPose)
	if len(candidates) == 0 {
		return
	}

	result := align.TwoStageAverage(candidates)
	if result.NumInliers() < a.cfg.RobustInitMinInliers {
		return
	}

	aligned := make([]pose.RigidPose, len(trajectory))
	for i, t := range trajectory {
		aligned[i] = result.T.Compose(t)
	}
	x := liftTrajectory(lift, a.r, a.d, aligned)

	a.posesMu.Lock()
	a.x = x
	a.xInit = x.Clone()
	a.xPrev = x.Clone()
	a.y = x.Clone()
	a.v = x.Clone()
	a.gamma, a.alpha = 0, 0
	a.posesMu.Unlock()

	a.setState(wire.Initialized)
	a.logger.Info("robust frame alignment succeeded", "inliers", result.NumInliers(), "candidates", len(candidates))
}

// neighborLiftedArray assembles the neighbor data the local quadratic
// subproblem needs: a LiftedPoseArray in the order the caller's id
// list gives, using whatever snapshot has been received so far
// (missing neighbors contribute a zero block, which only weakens that
// edge's pull on this round rather than failing the optimization
// step). The caller must already hold neighborPosesMu: this only ever
// runs from inside Iterate, which holds all three locks for its whole
// body. An empty id list yields nil, the no-neighbor form that
// quadratic.Problem accepts.
func (a *Agent) neighborLiftedArray(ids []poseid.PoseID, useAux bool) *pose.LiftedPoseArray {
	if len(ids) == 0 {
		return nil
	}
	dict := a.neighborPoseDict
	if useAux {
		dict = a.neighborAuxPoseDict
	}

	xn := pose.NewLiftedPoseArray(a.r, a.d, len(ids))
	for i, id := range ids {
		block, ok := dict[id]
		if !ok {
			continue
		}
		xn.Pose(i).Matrix().Copy(block)
	}
	return xn
}
