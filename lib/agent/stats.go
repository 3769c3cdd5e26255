// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// AgentStats holds read-only diagnostics accumulated across an
// agent's lifetime, separate from the wire StatusMessage: counters an
// operator cares about but that neighbors have no need to see.
type AgentStats struct {
	// IterationsPerformed counts every Iterate call, including ones
	// made outside INITIALIZED, which run no optimization step.
	IterationsPerformed int

	// OptimizationStepsSucceeded counts Iterate calls whose local
	// optimization step reported success.
	OptimizationStepsSucceeded int

	// OptimizationStepsFailed counts Iterate calls whose step did not
	// report success: an empty pose graph, or an optimizer run that
	// ended without meeting its gradient tolerance (X may still have
	// moved in that case).
	OptimizationStepsFailed int

	// PosesReceived counts individual public poses absorbed via
	// UpdateNeighborPoses across the agent's lifetime. Auxiliary
	// snapshots passed to UpdateAuxNeighborPoses are not counted.
	PosesReceived int

	// ReweightingRounds counts completed GNC reweighting rounds.
	ReweightingRounds int
}

// Stats returns a snapshot of the agent's running diagnostics.
func (a *Agent) Stats() AgentStats {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	return a.stats
}

// GetStatus returns this agent's current wire status message.
func (a *Agent) GetStatus() wire.StatusMessage {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	return a.status
}

// SetNeighborStatus records a neighbor's most recently published
// status message, consulted when deciding whether the team as a whole
// is ready to terminate.
func (a *Agent) SetNeighborStatus(status wire.StatusMessage) {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	a.neighborStatus[status.AgentID] = status
}

// ShouldTerminate reports whether the team may stop: true once this
// agent's iteration number exceeds cfg.MaxNumIters, or when this agent
// and every robot in neighbors report readyToTerminate. A neighbor the
// agent has never heard from is treated as not ready, since silence is
// not evidence of convergence.
func (a *Agent) ShouldTerminate(neighbors []poseid.RobotID) bool {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	if a.cfg.MaxNumIters > 0 && a.iteration > a.cfg.MaxNumIters {
		return true
	}
	if !a.status.ReadyToTerminate {
		return false
	}
	for _, id := range neighbors {
		status, ok := a.neighborStatus[id]
		if !ok || !status.ReadyToTerminate {
			return false
		}
	}
	return true
}
