// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

func TestPublishPosesDeliversToRegisteredRecipient(t *testing.T) {
	hub := NewHub(nil)
	sub1 := hub.Register(1)
	hub.Register(0)

	dict := wire.PoseDict{poseid.NewPoseID(0, 0): mat.NewDense(2, 3, nil)}
	hub.PublishPoses(0, 1, dict)

	from, got, ok := sub1.TryPose()
	if !ok {
		t.Fatalf("TryPose: expected a delivery")
	}
	if from != 0 {
		t.Fatalf("from = %d, want 0", from)
	}
	if len(got) != 1 {
		t.Fatalf("delivered dict has %d entries, want 1", len(got))
	}

	if _, _, ok := sub1.TryPose(); ok {
		t.Fatalf("TryPose: expected no second delivery")
	}
}

func TestPublishToUnregisteredRecipientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	hub.Register(0)

	// Robot 1 was never registered; this must not panic or block.
	hub.PublishPoses(0, 1, wire.PoseDict{})
	hub.PublishStatus(0, 1, wire.StatusMessage{AgentID: 0})
}

func TestBroadcastStatusReachesEveryOtherRegisteredAgent(t *testing.T) {
	hub := NewHub(nil)
	sub0 := hub.Register(0)
	sub1 := hub.Register(1)
	sub2 := hub.Register(2)

	hub.BroadcastStatus(0, wire.StatusMessage{AgentID: 0, IterationNumber: 5})

	if _, _, ok := sub0.TryStatus(); ok {
		t.Fatalf("broadcaster should not receive its own broadcast")
	}
	if _, msg, ok := sub1.TryStatus(); !ok || msg.IterationNumber != 5 {
		t.Fatalf("sub1 did not receive the broadcast status")
	}
	if _, msg, ok := sub2.TryStatus(); !ok || msg.IterationNumber != 5 {
		t.Fatalf("sub2 did not receive the broadcast status")
	}
}

func TestMailboxOverflowDropsRatherThanBlocks(t *testing.T) {
	hub := NewHub(nil)
	hub.Register(0)
	sub1 := hub.Register(1)

	for i := 0; i < mailboxSize+10; i++ {
		hub.PublishStatus(0, 1, wire.StatusMessage{AgentID: 0, IterationNumber: i})
	}

	count := 0
	for {
		if _, _, ok := sub1.TryStatus(); !ok {
			break
		}
		count++
	}
	if count != mailboxSize {
		t.Fatalf("drained %d statuses, want exactly %d (overflow dropped)", count, mailboxSize)
	}
}

func TestUnregisterStopsFurtherDeliveries(t *testing.T) {
	hub := NewHub(nil)
	sub0 := hub.Register(0)
	hub.Register(1)

	hub.Unregister(1)
	hub.PublishStatus(0, 1, wire.StatusMessage{})

	// Unregistering the recipient of a prior registration must not
	// affect deliveries to still-registered agents.
	hub.PublishStatus(1, 0, wire.StatusMessage{IterationNumber: 7})
	if _, msg, ok := sub0.TryStatus(); !ok || msg.IterationNumber != 7 {
		t.Fatalf("sub0 should still receive deliveries after an unrelated unregister")
	}
}

func TestDrainAllAppliesEveryBufferedKind(t *testing.T) {
	hub := NewHub(nil)
	hub.Register(0)
	sub1 := hub.Register(1)

	hub.PublishPoses(0, 1, wire.PoseDict{poseid.NewPoseID(0, 0): mat.NewDense(1, 1, nil)})
	hub.PublishAuxPoses(0, 1, wire.PoseDict{poseid.NewPoseID(0, 1): mat.NewDense(1, 1, nil)})
	hub.PublishStatus(0, 1, wire.StatusMessage{IterationNumber: 3})

	var poseCount, auxCount, statusCount int
	sub1.DrainAll(
		func(poseid.RobotID, wire.PoseDict) { poseCount++ },
		func(poseid.RobotID, wire.PoseDict) { auxCount++ },
		func(poseid.RobotID, wire.StatusMessage) { statusCount++ },
	)

	if poseCount != 1 || auxCount != 1 || statusCount != 1 {
		t.Fatalf("DrainAll counts = (%d,%d,%d), want (1,1,1)", poseCount, auxCount, statusCount)
	}
}
