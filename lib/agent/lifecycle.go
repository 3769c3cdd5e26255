// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/posegraph"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/robust"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// AddMeasurement appends one measurement to the pose graph. Valid
// only in WAIT_FOR_DATA; calling it in any other state is a
// programmer error.
func (a *Agent) AddMeasurement(m *measurement.RelativeSEMeasurement) error {
	if a.State() != wire.WaitForData {
		panic(fmt.Sprintf("agent: AddMeasurement requires WAIT_FOR_DATA, got %v", a.State()))
	}
	a.measurementsMu.Lock()
	defer a.measurementsMu.Unlock()
	return a.graph.AddMeasurement(m)
}

// SetMeasurements replaces the pose graph's contents wholesale. Valid
// only in WAIT_FOR_DATA.
func (a *Agent) SetMeasurements(odometry, privateLoopClosures, sharedLoopClosures []*measurement.RelativeSEMeasurement) error {
	if a.State() != wire.WaitForData {
		panic(fmt.Sprintf("agent: SetMeasurements requires WAIT_FOR_DATA, got %v", a.State()))
	}
	a.measurementsMu.Lock()
	defer a.measurementsMu.Unlock()
	return a.graph.SetMeasurements(odometry, privateLoopClosures, sharedLoopClosures)
}

// SetLiftingMatrix installs the team's r x d Stiefel lifting matrix.
// Once set, the matrix stays fixed for the agent's lifetime (Reset
// retains it): a later call with an identical matrix is an idempotent
// no-op, and a later call with a different matrix panics. Required
// before Initialize for every
// robot other than robot 0, which may derive its own if none is set.
func (a *Agent) SetLiftingMatrix(lift *mat.Dense) error {
	rows, cols := lift.Dims()
	if rows != a.r || cols != a.d {
		panic(fmt.Sprintf("agent: lifting matrix is %dx%d, want %dx%d", rows, cols, a.r, a.d))
	}
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	if a.liftingMatrixSet {
		if mat.Equal(a.liftingMatrix, lift) {
			return nil
		}
		panic("agent: lifting matrix already set and cannot be changed")
	}
	a.liftingMatrix = mat.DenseCopyOf(lift)
	a.liftingMatrixSet = true
	return nil
}

// SetGlobalAnchor installs the team's common reference frame, given as
// a lifted r x (d+1) block (e.g. ground truth for pose 0, or the
// output of some external frame fixture). getTrajectoryInGlobalFrame
// projects the iterate through this anchor's own Stiefel frame; no
// lifting matrix is required for this to be set.
func (a *Agent) SetGlobalAnchor(anchor *mat.Dense) error {
	if _, err := pose.NewLiftedPose(a.r, a.d, anchor); err != nil {
		return fmt.Errorf("agent: SetGlobalAnchor: %w", err)
	}
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	a.globalAnchor = mat.DenseCopyOf(anchor)
	return nil
}

// Initialize computes this robot's local initial trajectory and lifts
// it into the rank-r iterate. If tInit is non-nil, it is used directly
// (one RigidPose per own frame, in frame-ID order) instead of being
// computed from the pose graph. L2 cost uses chordal initialization;
// any robust cost kind integrates the odometry chain from the
// identity instead, since a robust cost's residuals are not yet
// trustworthy enough to seed a chordal solve.
//
// Transitions to INITIALIZED directly for robot 0 or a single-robot
// team (no neighbor alignment needed); otherwise to
// WAIT_FOR_INITIALIZATION, pending a successful robust frame alignment
// once neighbor poses start arriving.
func (a *Agent) Initialize(tInit []pose.RigidPose) error {
	if a.State() != wire.WaitForData {
		panic(fmt.Sprintf("agent: Initialize requires WAIT_FOR_DATA, got %v", a.State()))
	}

	a.posesMu.Lock()
	if a.id != 0 && !a.liftingMatrixSet {
		a.posesMu.Unlock()
		panic(fmt.Sprintf("agent: Initialize requires a lifting matrix for robot %d", a.id))
	}
	if a.id == 0 && !a.liftingMatrixSet {
		a.liftingMatrix = manifold.ProjectStiefel(randomGaussian(a.r, a.d))
		a.liftingMatrixSet = true
	}
	lift := a.liftingMatrix
	a.posesMu.Unlock()

	trajectory := tInit
	if trajectory == nil {
		var err error
		trajectory, err = a.localInitialize()
		if err != nil {
			return fmt.Errorf("agent: Initialize: %w", err)
		}
	}

	x := liftTrajectory(lift, a.r, a.d, trajectory)

	a.posesMu.Lock()
	a.x = x
	a.xInit = x.Clone()
	a.xPrev = x.Clone()
	a.y = x.Clone()
	a.v = x.Clone()
	a.gamma, a.alpha = 0, 0
	a.localTrajectory = trajectory
	a.posesMu.Unlock()

	if a.id == 0 || a.teamSize == 1 {
		a.setState(wire.Initialized)
	} else {
		a.setState(wire.WaitForInitialization)
	}
	return nil
}

func (a *Agent) localInitialize() ([]pose.RigidPose, error) {
	a.measurementsMu.Lock()
	defer a.measurementsMu.Unlock()

	if a.robustCost.Kind == robust.L2 {
		return a.graph.ChordalInitialize(pose.Identity(a.d))
	}
	return integrateOdometry(a.graph.Odometry(), a.d, a.graph.NumPoses())
}

// integrateOdometry builds a trajectory by composing the odometry
// chain from the identity: pose i+1 = pose i composed with the
// i->i+1 measurement.
func integrateOdometry(odometry []*measurement.RelativeSEMeasurement, d, numPoses int) ([]pose.RigidPose, error) {
	if numPoses == 0 {
		return nil, fmt.Errorf("cannot integrate odometry for an empty graph")
	}
	sorted := append([]*measurement.RelativeSEMeasurement(nil), odometry...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Src.FrameID < sorted[j].Src.FrameID })

	out := make([]pose.RigidPose, numPoses)
	out[0] = pose.Identity(d)
	for _, m := range sorted {
		i, j := int(m.Src.FrameID), int(m.Dst.FrameID)
		if i >= numPoses || j >= numPoses {
			continue
		}
		step, err := pose.NewRigidPose(d, m.R, m.T)
		if err != nil {
			return nil, err
		}
		out[j] = out[i].Compose(step)
	}
	return out, nil
}

// liftTrajectory applies the lifting matrix block-wise to a local
// SE(d) trajectory, yielding the rank-r iterate X = YLift * T.
func liftTrajectory(lift *mat.Dense, r, d int, trajectory []pose.RigidPose) *pose.LiftedPoseArray {
	x := pose.NewLiftedPoseArray(r, d, len(trajectory))
	for i, t := range trajectory {
		block := x.Pose(i)
		block.Frame().Mul(lift, t.Rotation())
		var p mat.VecDense
		p.MulVec(lift, t.Translation())
		block.Translation().CopyVec(&p)
	}
	return x
}

func randomGaussian(rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, rand.NormFloat64())
		}
	}
	return out
}

// Reset returns the agent to WAIT_FOR_DATA: the pose graph, iterate,
// and neighbor snapshots are cleared; the instance number is
// incremented and the iteration number resets to zero. The lifting
// matrix is retained, since it identifies the team's shared lifted
// frame across restarts.
func (a *Agent) Reset() {
	a.posesMu.Lock()
	a.x, a.y, a.v, a.xPrev, a.xInit = nil, nil, nil, nil, nil
	a.gamma, a.alpha = 0, 0
	a.globalAnchor = nil
	a.localTrajectory = nil
	a.state = wire.WaitForData
	a.instanceNumber++
	a.iteration = 0
	a.status = wire.StatusMessage{AgentID: a.id, State: wire.WaitForData, InstanceNumber: a.instanceNumber}
	a.neighborStatus = make(map[poseid.RobotID]wire.StatusMessage)
	a.posesMu.Unlock()

	a.measurementsMu.Lock()
	a.graph = posegraph.New(a.id, a.d)
	a.sinceReweight = 0
	a.measurementsMu.Unlock()

	a.neighborPosesMu.Lock()
	a.neighborPoseDict = make(map[poseid.PoseID]*mat.Dense)
	a.neighborAuxPoseDict = make(map[poseid.PoseID]*mat.Dense)
	a.neighborPosesMu.Unlock()
}
