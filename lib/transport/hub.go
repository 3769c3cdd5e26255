// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements an in-process message router between
// agents, used by cmd/dpgo-simulate and integration tests to stand in
// for whatever real transport an orchestrator would otherwise supply.
// The agent core never imports this package: an Agent only consumes
// wire.PoseDict/wire.StatusMessage values, however they arrive.
package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/distributed-pgo/dpgo/lib/poseid"
	"github.com/distributed-pgo/dpgo/lib/wire"
)

// mailboxSize is the buffer depth for a registered agent's inbound
// channels. Must be large enough to absorb a burst of deliveries
// between consecutive reads without drops; a simulated team is small
// enough that this is generous headroom, not a tuned capacity.
const mailboxSize = 256

type poseEvent struct {
	from poseid.RobotID
	dict wire.PoseDict
}

type statusEvent struct {
	from poseid.RobotID
	msg  wire.StatusMessage
}

// mailbox is one registered agent's inbound queues.
type mailbox struct {
	poses    chan poseEvent
	auxPoses chan poseEvent
	status   chan statusEvent

	dropsMu     sync.Mutex
	poseDrops   int
	statusDrops int
}

func newMailbox() *mailbox {
	return &mailbox{
		poses:    make(chan poseEvent, mailboxSize),
		auxPoses: make(chan poseEvent, mailboxSize),
		status:   make(chan statusEvent, mailboxSize),
	}
}

// Hub routes public-pose-dict and status deliveries between registered
// agents by robot ID. Publish calls never block the publisher: a full
// recipient mailbox drops the message and counts it, rather than
// stalling the publishing goroutine.
type Hub struct {
	mu        sync.RWMutex
	mailboxes map[poseid.RobotID]*mailbox
	logger    *slog.Logger
}

// NewHub returns an empty Hub. A nil logger defaults to slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		mailboxes: make(map[poseid.RobotID]*mailbox),
		logger:    logger,
	}
}

// Subscription is the read side of one agent's registration: TryPose,
// TryAuxPose, and TryStatus drain messages published to this robot by
// any other registered agent.
type Subscription struct {
	id      poseid.RobotID
	mailbox *mailbox
}

// Register adds id to the hub and returns its inbound subscription.
// Calling Register twice for the same id is a programmer error.
func (h *Hub) Register(id poseid.RobotID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.mailboxes[id]; exists {
		panic(fmt.Sprintf("transport: robot %d already registered", id))
	}
	box := newMailbox()
	h.mailboxes[id] = box
	return &Subscription{id: id, mailbox: box}
}

// Unregister removes id from the hub. Further publishes addressed to
// it are silently dropped.
func (h *Hub) Unregister(id poseid.RobotID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.mailboxes, id)
}

// PublishPoses delivers dict to robot `to` as a public-pose snapshot
// from robot `from`. Non-blocking: dropped if `to`'s mailbox is full
// or unregistered.
func (h *Hub) PublishPoses(from, to poseid.RobotID, dict wire.PoseDict) {
	h.deliverPoses(from, to, dict, false)
}

// PublishAuxPoses is PublishPoses's counterpart for the accelerated
// update's auxiliary (Y) snapshot.
func (h *Hub) PublishAuxPoses(from, to poseid.RobotID, dict wire.PoseDict) {
	h.deliverPoses(from, to, dict, true)
}

func (h *Hub) deliverPoses(from, to poseid.RobotID, dict wire.PoseDict, aux bool) {
	h.mu.RLock()
	box, ok := h.mailboxes[to]
	h.mu.RUnlock()
	if !ok {
		return
	}

	ch := box.poses
	if aux {
		ch = box.auxPoses
	}
	select {
	case ch <- poseEvent{from: from, dict: dict}:
	default:
		box.dropsMu.Lock()
		box.poseDrops++
		box.dropsMu.Unlock()
		h.logger.Warn("transport: dropped pose delivery, mailbox full", "from", from, "to", to, "aux", aux)
	}
}

// PublishStatus delivers msg to robot `to` as a status update from
// robot `from`. Non-blocking: dropped if `to`'s mailbox is full or
// unregistered.
func (h *Hub) PublishStatus(from, to poseid.RobotID, msg wire.StatusMessage) {
	h.mu.RLock()
	box, ok := h.mailboxes[to]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case box.status <- statusEvent{from: from, msg: msg}:
	default:
		box.dropsMu.Lock()
		box.statusDrops++
		box.dropsMu.Unlock()
		h.logger.Warn("transport: dropped status delivery, mailbox full", "from", from, "to", to)
	}
}

// BroadcastPoses delivers dict to every registered agent except from.
func (h *Hub) BroadcastPoses(from poseid.RobotID, dict wire.PoseDict) {
	for _, to := range h.peers(from) {
		h.PublishPoses(from, to, dict)
	}
}

// BroadcastAuxPoses is BroadcastPoses's auxiliary-snapshot counterpart.
func (h *Hub) BroadcastAuxPoses(from poseid.RobotID, dict wire.PoseDict) {
	for _, to := range h.peers(from) {
		h.PublishAuxPoses(from, to, dict)
	}
}

// BroadcastStatus delivers msg to every registered agent except from.
func (h *Hub) BroadcastStatus(from poseid.RobotID, msg wire.StatusMessage) {
	for _, to := range h.peers(from) {
		h.PublishStatus(from, to, msg)
	}
}

func (h *Hub) peers(from poseid.RobotID) []poseid.RobotID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]poseid.RobotID, 0, len(h.mailboxes))
	for id := range h.mailboxes {
		if id != from {
			out = append(out, id)
		}
	}
	return out
}

// TryPose returns the next buffered pose-dict delivery for this
// subscription, if any, without blocking.
func (s *Subscription) TryPose() (poseid.RobotID, wire.PoseDict, bool) {
	select {
	case ev := <-s.mailbox.poses:
		return ev.from, ev.dict, true
	default:
		return 0, nil, false
	}
}

// TryAuxPose is TryPose's counterpart for auxiliary-snapshot deliveries.
func (s *Subscription) TryAuxPose() (poseid.RobotID, wire.PoseDict, bool) {
	select {
	case ev := <-s.mailbox.auxPoses:
		return ev.from, ev.dict, true
	default:
		return 0, nil, false
	}
}

// TryStatus returns the next buffered status delivery for this
// subscription, if any, without blocking.
func (s *Subscription) TryStatus() (poseid.RobotID, wire.StatusMessage, bool) {
	select {
	case ev := <-s.mailbox.status:
		return ev.from, ev.msg, true
	default:
		return 0, wire.StatusMessage{}, false
	}
}

// DrainAll applies every currently buffered pose, auxiliary-pose, and
// status delivery for this subscription via the given sinks. Used by
// the simulation driver to pull a full round of neighbor updates
// before each tick.
func (s *Subscription) DrainAll(applyPose, applyAuxPose func(poseid.RobotID, wire.PoseDict), applyStatus func(poseid.RobotID, wire.StatusMessage)) {
	for {
		from, dict, ok := s.TryPose()
		if !ok {
			break
		}
		applyPose(from, dict)
	}
	for {
		from, dict, ok := s.TryAuxPose()
		if !ok {
			break
		}
		applyAuxPose(from, dict)
	}
	for {
		from, msg, ok := s.TryStatus()
		if !ok {
			break
		}
		applyStatus(from, msg)
	}
}

// ID returns the robot this subscription was registered for.
func (s *Subscription) ID() poseid.RobotID { return s.id }
