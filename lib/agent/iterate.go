// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/align"
	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/optimizer"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/quadratic"
	"github.com/distributed-pgo/dpgo/lib/robust"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// Iterate advances the agent by one step. If reweighting is due (cost
// kind is not L2 and robustOptInnerIters iterations have elapsed
// since the last round), weights are updated first and acceleration
// is reinitialized. If the agent is INITIALIZED, the iterate itself
// advances: the accelerated block update when the team has more than
// one robot, otherwise a direct optimization from X. doOptimization
// lets the caller run a "dry" tick that only advances momentum,
// without spending an optimizer call.
//
// Iterate holds all three of posesMu, measurementsMu, and
// neighborPosesMu for its entire body and never suspends; every
// unexported helper it calls assumes these are already held.
func (a *Agent) Iterate(doOptimization bool) {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	a.measurementsMu.Lock()
	defer a.measurementsMu.Unlock()
	a.neighborPosesMu.Lock()
	defer a.neighborPosesMu.Unlock()

	a.iteration++
	a.stats.IterationsPerformed++

	if a.reweightingDue() {
		a.reweightEdges()
	}

	if a.state != wire.Initialized {
		return
	}

	a.xPrev = a.x.Clone()
	n := a.teamSize

	var success bool
	if n > 1 {
		success = a.acceleratedStep(doOptimization)
	} else {
		success = a.vanillaStep()
	}
	if success {
		a.stats.OptimizationStepsSucceeded++
	} else {
		a.stats.OptimizationStepsFailed++
	}

	if doOptimization {
		relChange := a.relativeChange()
		a.updateStatus(success, relChange)
	}
}

// reweightingDue reports whether a GNC reweighting round is due: the
// cost kind is not L2 and robustOptInnerIters agent iterations have
// elapsed since the last round.
func (a *Agent) reweightingDue() bool {
	if a.robustCost.Kind == robust.L2 {
		return false
	}
	a.sinceReweight++
	if a.sinceReweight < a.cfg.RobustOptInnerIters {
		return false
	}
	a.sinceReweight = 0
	return true
}

// reweightEdges recomputes every non-fixed, non-inlier edge's weight
// from its current residual, advances the GNC schedule, invalidates
// the cached data matrices, resets X to XInit unless
// robustOptWarmStart is set, and always reinitializes acceleration
// (Y = V = X, gamma = alpha = 0).
func (a *Agent) reweightEdges() {
	lift := a.liftingMatrix
	x := a.x
	if lift == nil || x == nil {
		return
	}

	edges := a.graph.AllMeasurements()
	for _, m := range edges {
		if m.FixedWeight || m.KnownInlier {
			continue
		}
		residualSq, ok := edgeResidualSq(a.id, a.r, a.d, lift, x, a.neighborPoseDict, m)
		if !ok {
			continue // missing neighbor pose: skip this edge's weight update this round
		}
		a.robustCost.Reweight(m, residualSq)
	}
	a.robustCost.Update()
	a.graph.InvalidateCache()
	a.stats.ReweightingRounds++

	if !a.cfg.RobustOptWarmStart {
		a.x = a.xInit.Clone()
	}
	a.y = a.x.Clone()
	a.v = a.x.Clone()
	a.gamma, a.alpha = 0, 0
}

// edgeResidualSq returns the combined rotation/translation residual of
// edge m under a snapshot of unlifted poses, scaled by the edge's own
// precisions: kappa*||R_j - R_i*Rhat||_F^2 +
// tau*||t_j - (t_i + R_i*that)||^2. Returns ok=false if either
// endpoint's pose is not yet available (an own pose not yet in X, or a
// neighbor pose never received). Takes its inputs as plain values
// rather than reaching back into the agent, so it has no locking
// concerns of its own.
func edgeResidualSq(self poseid.RobotID, r, d int, lift *mat.Dense, x *pose.LiftedPoseArray, neighbors map[measurement.PoseID]*mat.Dense, m *measurement.RelativeSEMeasurement) (float64, bool) {
	srcPose, ok := endpointPose(self, r, d, lift, x, neighbors, m.Src)
	if !ok {
		return 0, false
	}
	dstPose, ok := endpointPose(self, r, d, lift, x, neighbors, m.Dst)
	if !ok {
		return 0, false
	}

	predicted := srcPose.Compose(mustRigid(m.D(), m.R, m.T))
	rotErr := frobeniusDiff(predicted.Rotation(), dstPose.Rotation())
	transErr := vecDiffNormSq(predicted.Translation(), dstPose.Translation())
	return m.Kappa*rotErr + m.Tau*transErr, true
}

// endpointPose unlifts one edge endpoint's pose, own or neighbor,
// through the given lifting matrix, using a caller-supplied snapshot
// of X and the neighbor pose cache.
func endpointPose(self poseid.RobotID, r, d int, lift *mat.Dense, x *pose.LiftedPoseArray, neighbors map[measurement.PoseID]*mat.Dense, id measurement.PoseID) (pose.RigidPose, bool) {
	if id.RobotID == self {
		if x == nil || int(id.FrameID) >= x.N() {
			return pose.RigidPose{}, false
		}
		lp := x.Pose(int(id.FrameID))
		return align.Unlift(lift, lp), true
	}

	block, ok := neighbors[id]
	if !ok {
		return pose.RigidPose{}, false
	}
	lp, err := pose.NewLiftedPose(r, d, block)
	if err != nil {
		return pose.RigidPose{}, false
	}
	return align.Unlift(lift, lp), true
}

// acceleratedStep runs one Nesterov-accelerated block update and
// reports whether the underlying optimization step succeeded
// (vacuously true for a dry tick).
func (a *Agent) acceleratedStep(doOptimization bool) bool {
	x, v := a.x, a.v
	gamma := a.gamma
	n := float64(a.teamSize)
	iteration := a.iteration

	newGamma := (1 + math.Sqrt(1+4*n*n*gamma*gamma)) / (2 * n)
	alpha := 1 / (newGamma * n)

	blend := x.Clone()
	blend.Data.Scale(1-alpha, blend.Data)
	scaledV := v.Clone()
	scaledV.Data.Scale(alpha, scaledV.Data)
	blend.Data.Add(blend.Data, scaledV.Data)
	y := manifold.Projected(blend)

	a.y = y

	var success bool
	var newX *pose.LiftedPoseArray
	if doOptimization {
		newX, success = a.updateIterate(y, true)
	} else {
		newX, success = y, true
	}

	vStep := newX.Clone()
	vStep.Data.Sub(vStep.Data, y.Data)
	vStep.Data.Scale(newGamma, vStep.Data)
	newV := v.Clone()
	newV.Data.Add(newV.Data, vStep.Data)
	newV = manifold.Projected(newV)

	a.x = newX
	a.v = newV
	a.gamma = newGamma
	a.alpha = alpha

	if a.cfg.RestartInterval > 0 && (iteration+1)%a.cfg.RestartInterval == 0 {
		a.restart()
	}
	return success
}

// restart reverts to XPrev, re-runs one non-accelerated update from
// there, and resets the momentum/auxiliary state to the result, per
// the Nesterov restart law.
func (a *Agent) restart() {
	newX, _ := a.updateIterate(a.xPrev, false)
	a.x = newX
	a.v = newX.Clone()
	a.y = newX.Clone()
	a.gamma, a.alpha = 0, 0
}

// vanillaStep optimizes directly from X, used when the team has only
// one robot and acceleration is disabled.
func (a *Agent) vanillaStep() bool {
	newX, success := a.updateIterate(a.x, false)
	a.x = newX
	a.y = newX.Clone()
	a.v = newX.Clone()
	return success
}

// updateIterate solves the local quadratic subproblem from start and
// returns the result. useAux selects whether the neighbor data comes
// from the published (X) or auxiliary (Y) neighbor snapshot, matching
// whether start is itself an X or a Y value. On data-matrix
// construction failure (an empty graph), it logs, skips the
// optimization, and returns start unchanged with success=false.
func (a *Agent) updateIterate(start *pose.LiftedPoseArray, useAux bool) (*pose.LiftedPoseArray, bool) {
	numPoses := a.graph.NumPoses()
	if numPoses == 0 {
		a.logger.Warn("skipping optimization step: empty pose graph")
		return start, false
	}
	q, g := a.graph.QAndG()
	neighborIDs := a.graph.NeighborPublicPoseIDs()

	xn := a.neighborLiftedArray(neighborIDs, useAux)
	problem := quadratic.Problem{Q: q, G: g, XN: xn}

	rtrCfg := a.distributedRTRConfig()
	result := optimizer.RTR(problem.AsTrustRegionProblem(), start, rtrCfg)
	return result.X, result.Success
}

func (a *Agent) distributedRTRConfig() optimizer.RTRConfig {
	initial, maxRadius, outer, inner, gradTol := a.cfg.RTR.ToOptimizerConfig()
	return optimizer.RTRConfig{
		InitialRadius:      initial,
		MaxRadius:          maxRadius,
		MaxOuterIterations: outer,
		MaxInnerIterations: inner,
		GradientTolerance:  gradTol,
	}
}

// relativeChange returns the mean translation displacement between X
// and XPrev over this robot's own poses, measured directly on the
// lifted (rank-r) translation columns rather than on poses rounded
// down to SE(d).
func (a *Agent) relativeChange() float64 {
	x, xPrev := a.x, a.xPrev
	if x == nil || xPrev == nil || x.N() == 0 {
		return 0
	}

	total := 0.0
	for i := 0; i < x.N(); i++ {
		total += math.Sqrt(vecDiffNormSq(x.Pose(i).Translation(), xPrev.Pose(i).Translation()))
	}
	return total / float64(x.N())
}

// updateStatus recomputes the agent's wire status after one
// iteration: readyToTerminate requires the optimization step to have
// succeeded, relativeChange at or below tolerance, and enough loop
// closures to have converged (been classified accepted or rejected,
// rather than left undecided).
func (a *Agent) updateStatus(optimizationSucceeded bool, relChange float64) {
	convergedFraction := a.convergedFraction()
	readyToTerminate := optimizationSucceeded &&
		relChange <= a.cfg.RelChangeTol &&
		convergedFraction >= a.cfg.RobustOptMinConvergenceRatio

	a.status = wire.StatusMessage{
		AgentID:          a.id,
		State:            a.state,
		InstanceNumber:   a.instanceNumber,
		IterationNumber:  a.iteration,
		ReadyToTerminate: readyToTerminate,
		RelativeChange:   relChange,
	}
}

// convergedFraction returns the fraction of loop closures (private and
// shared, excluding fixed/known-inlier odometry) that have been
// classified Accepted or Rejected rather than left Undecided. A
// cost-kind of L2 (no classification ever runs) reports full
// convergence, since there is nothing to converge.
func (a *Agent) convergedFraction() float64 {
	if a.robustCost.Kind == robust.L2 {
		return 1
	}
	loopClosures := append(append([]*measurement.RelativeSEMeasurement{}, a.graph.PrivateLoopClosures()...), a.graph.SharedLoopClosures()...)
	if len(loopClosures) == 0 {
		return 1
	}
	converged := 0
	for _, m := range loopClosures {
		if m.Class != measurement.Undecided {
			converged++
		}
	}
	return float64(converged) / float64(len(loopClosures))
}

// mustRigid wraps a measurement's raw (R, T) as a RigidPose. Never
// fails in practice since measurement.New already validated the
// dimensions this edge was constructed with.
func mustRigid(d int, r *mat.Dense, t *mat.VecDense) pose.RigidPose {
	p, err := pose.NewRigidPose(d, r, t)
	if err != nil {
		panic(fmt.Sprintf("agent: malformed measurement escaped validation: %v", err))
	}
	return p
}

// frobeniusDiff returns ||a - b||_F^2.
func frobeniusDiff(a, b *mat.Dense) float64 {
	rows, cols := a.Dims()
	sum := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := a.At(i, j) - b.At(i, j)
			sum += d * d
		}
	}
	return sum
}

// vecDiffNormSq returns ||a - b||^2.
func vecDiffNormSq(a, b *mat.VecDense) float64 {
	sum := 0.0
	for i := 0; i < a.Len(); i++ {
		d := a.AtVec(i) - b.AtVec(i)
		sum += d * d
	}
	return sum
}
