// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/agent"
	"github.com/distributed-pgo/dpgo/lib/agentconfig"
	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/transport"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// roundResult is what one simulated team run produces: every robot's
// own trajectory, expressed in its own local frame, and the number of
// synchronous rounds it took to either converge or hit the iteration
// cap.
type roundResult struct {
	trajectories map[poseid.RobotID][]pose.RigidPose
	rounds       int
	converged    bool
}

// simulateTeam builds one Agent per robot from t, wires them through
// an in-process Hub, and drives them with a synchronous round-robin
// loop: every robot drains whatever its neighbors published last
// round, advances one Iterate, then republishes. This stands in for
// the asynchronous per-robot executor (RunExecutor): a team of more
// than one robot always runs with acceleration on (see Agent.Iterate),
// and RunExecutor is deliberately restricted to single-robot teams, so
// a multi-robot simulation needs its own driver rather than one
// executor per robot.
func simulateTeam(t team, r, d, teamSize int, cfg agentconfig.AgentConfig, logger *slog.Logger) (roundResult, error) {
	lift := manifold.ProjectStiefel(randomMatrix(r, d))

	agents := make(map[poseid.RobotID]*agent.Agent, teamSize)
	hub := transport.NewHub(logger)
	subs := make(map[poseid.RobotID]*transport.Subscription, teamSize)
	peers := make(map[poseid.RobotID][]poseid.RobotID, teamSize)

	for b := 0; b < teamSize; b++ {
		id := poseid.RobotID(b)
		ag, err := agent.New(id, r, d, teamSize, cfg, logger)
		if err != nil {
			return roundResult{}, fmt.Errorf("simulate: robot %d: %w", id, err)
		}
		if err := ag.SetLiftingMatrix(lift); err != nil {
			return roundResult{}, fmt.Errorf("simulate: robot %d: %w", id, err)
		}
		if err := ag.SetMeasurements(t.measurements[id], nil, nil); err != nil {
			return roundResult{}, fmt.Errorf("simulate: robot %d: %w", id, err)
		}
		agents[id] = ag
		subs[id] = hub.Register(id)

		var others []poseid.RobotID
		for o := 0; o < teamSize; o++ {
			if o != b {
				others = append(others, poseid.RobotID(o))
			}
		}
		peers[id] = others
	}

	for b := 0; b < teamSize; b++ {
		id := poseid.RobotID(b)
		if err := agents[id].Initialize(nil); err != nil {
			return roundResult{}, fmt.Errorf("simulate: robot %d: %w", id, err)
		}
	}

	round := 0
	converged := false
	for ; round < cfg.MaxNumIters; round++ {
		for b := 0; b < teamSize; b++ {
			id := poseid.RobotID(b)
			ag := agents[id]
			subs[id].DrainAll(
				func(from poseid.RobotID, dict wire.PoseDict) { _ = ag.UpdateNeighborPoses(dict) },
				func(from poseid.RobotID, dict wire.PoseDict) { _ = ag.UpdateAuxNeighborPoses(dict) },
				func(from poseid.RobotID, status wire.StatusMessage) { ag.SetNeighborStatus(status) },
			)
		}

		for b := 0; b < teamSize; b++ {
			agents[poseid.RobotID(b)].Iterate(true)
		}

		for b := 0; b < teamSize; b++ {
			id := poseid.RobotID(b)
			ag := agents[id]
			hub.BroadcastPoses(id, ag.GetSharedPoseDict())
			hub.BroadcastAuxPoses(id, ag.GetAuxSharedPoseDict())
			hub.BroadcastStatus(id, ag.GetStatus())
		}

		allReady := true
		for b := 0; b < teamSize; b++ {
			id := poseid.RobotID(b)
			if !agents[id].ShouldTerminate(peers[id]) {
				allReady = false
				break
			}
		}
		if allReady {
			converged = true
			round++
			break
		}
	}

	trajectories := make(map[poseid.RobotID][]pose.RigidPose, teamSize)
	for b := 0; b < teamSize; b++ {
		id := poseid.RobotID(b)
		traj, ok := agents[id].GetTrajectoryInLocalFrame()
		if !ok {
			return roundResult{}, fmt.Errorf("simulate: robot %d never reached INITIALIZED", id)
		}
		trajectories[id] = traj
	}

	return roundResult{trajectories: trajectories, rounds: round, converged: converged}, nil
}

func randomMatrix(rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, rand.NormFloat64())
		}
	}
	return out
}
