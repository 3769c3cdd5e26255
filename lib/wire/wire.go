// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the messages exchanged between agents over
// whatever transport an orchestrator provides: status updates and
// public-pose snapshots. Both are plain structs with JSON tags;
// neither package depends on any particular transport implementation.
package wire

import (
	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// AgentState mirrors an agent's state machine position, for reporting
// over the wire without importing the agent package (which would
// create an import cycle back to wire).
type AgentState int

const (
	WaitForData AgentState = iota
	WaitForInitialization
	Initialized
)

func (s AgentState) String() string {
	switch s {
	case WaitForData:
		return "WAIT_FOR_DATA"
	case WaitForInitialization:
		return "WAIT_FOR_INITIALIZATION"
	case Initialized:
		return "INITIALIZED"
	default:
		return "UNKNOWN"
	}
}

// StatusMessage is the periodic broadcast each agent sends describing
// its own progress.
type StatusMessage struct {
	AgentID          poseid.RobotID `json:"agentID"`
	State            AgentState     `json:"state"`
	InstanceNumber   int            `json:"instanceNumber"`
	IterationNumber  int            `json:"iterationNumber"`
	ReadyToTerminate bool           `json:"readyToTerminate"`
	RelativeChange   float64        `json:"relativeChange"`
}

// PublicPoseMessage carries one pose an agent has published for its
// neighbors to consume: a lifted r x (d+1) block, floats in native
// precision, identified by its global PoseID.
type PublicPoseMessage struct {
	PoseID poseid.PoseID `json:"poseID"`
	Pose   *mat.Dense    `json:"pose"`
}

// PoseDict is a snapshot of public poses keyed by PoseID, the shape
// exchanged by updateNeighborPoses/getSharedPoseDict.
type PoseDict map[poseid.PoseID]*mat.Dense
