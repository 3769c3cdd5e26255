// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the per-robot state machine and iterate
// loop that drives one robot's contribution to a team-wide
// asynchronous pose-graph optimization: the manifold iterate and its
// acceleration auxiliaries, the owned pose graph, neighbor pose
// snapshots, robust reweighting, and the stochastic executor that
// ticks iterate forward on its own worker.
package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/agentconfig"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/posegraph"
	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/robust"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// Agent is one robot's share of a distributed pose-graph optimization
// team. It owns its pose graph, iterate, and cached matrices
// exclusively; neighbor poses are shared-for-read snapshots received
// from a transport, never references into peers.
//
// Three locks protect disjoint state, always acquired in the order
// poses -> measurements -> neighborPoses when more than one is held
// at once: posesMu guards x/y/v/xPrev/xInit/globalAnchor/acceleration
// state, and also the state machine and status/stats bookkeeping (a
// fourth lock isn't worth it since Iterate already holds all three for
// its entire body, and nothing outside Iterate needs pose and status
// updates to be independently atomic); measurementsMu guards the pose
// graph; neighborPosesMu guards the neighbor pose snapshots.
type Agent struct {
	id       poseid.RobotID
	r, d     int
	teamSize int

	logger *slog.Logger
	cfg    agentconfig.AgentConfig

	posesMu          sync.Mutex
	x, y, v          *pose.LiftedPoseArray
	xPrev, xInit     *pose.LiftedPoseArray
	gamma, alpha     float64
	liftingMatrix    *mat.Dense // r x d
	liftingMatrixSet bool
	globalAnchor     *mat.Dense       // r x (d+1) lifted reference pose; nil until the orchestrator supplies one
	localTrajectory  []pose.RigidPose // this robot's un-aligned local poses, kept until alignment succeeds
	state            wire.AgentState
	instanceNumber   int
	iteration        int
	status           wire.StatusMessage
	neighborStatus   map[poseid.RobotID]wire.StatusMessage
	stats            AgentStats

	measurementsMu sync.Mutex
	graph          *posegraph.PoseGraph
	robustCost     robust.Cost
	sinceReweight  int

	neighborPosesMu     sync.Mutex
	neighborPoseDict    map[poseid.PoseID]*mat.Dense
	neighborAuxPoseDict map[poseid.PoseID]*mat.Dense

	// endLoopRequested is set by EndExecutor and polled by RunExecutor
	// after each tick. It is its own atomic rather than guarded by one
	// of the three locks, since RunExecutor must be able to poll it
	// without contending with a concurrent Iterate call.
	endLoopRequested int32
}

// New returns an agent for robot id in dimension d, lifted to rank r,
// with a team of teamSize robots, configured by cfg. The agent starts
// in WAIT_FOR_DATA with an empty pose graph.
func New(id poseid.RobotID, r, d, teamSize int, cfg agentconfig.AgentConfig, logger *slog.Logger) (*Agent, error) {
	if r < d {
		return nil, fmt.Errorf("agent: lifted rank %d must be >= ambient dimension %d", r, d)
	}
	if teamSize < 1 {
		return nil, fmt.Errorf("agent: team size must be positive, got %d", teamSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	kind, err := robust.ParseKind(cfg.CostKind)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	return &Agent{
		id:                  id,
		r:                   r,
		d:                   d,
		teamSize:            teamSize,
		logger:              logger.With("agent", id),
		cfg:                 cfg,
		graph:               posegraph.New(id, d),
		robustCost:          robust.NewCost(kind, cfg.GNCInitialMu),
		neighborPoseDict:    make(map[poseid.PoseID]*mat.Dense),
		neighborAuxPoseDict: make(map[poseid.PoseID]*mat.Dense),
		neighborStatus:      make(map[poseid.RobotID]wire.StatusMessage),
		state:               wire.WaitForData,
		status:              wire.StatusMessage{AgentID: id, State: wire.WaitForData},
	}, nil
}

// ID returns the robot ID this agent represents.
func (a *Agent) ID() poseid.RobotID { return a.id }

// D returns the ambient rotation dimension.
func (a *Agent) D() int { return a.d }

// R returns the lifted rank.
func (a *Agent) R() int { return a.r }

// State returns the agent's current state machine position.
func (a *Agent) State() wire.AgentState {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	return a.state
}

// NumPoses returns the number of poses in this robot's own trajectory.
func (a *Agent) NumPoses() int {
	a.measurementsMu.Lock()
	defer a.measurementsMu.Unlock()
	return a.graph.NumPoses()
}

func (a *Agent) setState(s wire.AgentState) {
	a.posesMu.Lock()
	defer a.posesMu.Unlock()
	a.state = s
}
