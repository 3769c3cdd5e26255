// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package posegraph implements the per-robot measurement store:
// partitioning of RelativeSEMeasurement edges into odometry, private
// loop closures, and shared loop closures; the derived
// public/neighbor pose-ID sets; and the data matrices (B1, B2, B3,
// the connection Laplacian, and the quadratic cost matrices Q and G)
// those edges induce.
package posegraph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// PoseGraph owns one robot's measurements and the data matrices they
// induce. It is not safe for concurrent use on its own — callers that
// need concurrent access wrap it with their own lock (the agent's
// measurements lock).
type PoseGraph struct {
	id poseid.RobotID
	d  int

	numPoses int // number of own poses; frame IDs are 0..numPoses-1.

	odometry            []*measurement.RelativeSEMeasurement
	privateLoopClosures []*measurement.RelativeSEMeasurement
	sharedLoopClosures  []*measurement.RelativeSEMeasurement

	// neighborIndex assigns a dense column index to every neighbor
	// PoseID referenced by a shared loop closure, in first-seen order.
	neighborIndex map[poseid.PoseID]int
	neighborOrder []poseid.PoseID

	// cache holds derived matrices, invalidated on any weight or
	// measurement change.
	cache struct {
		valid bool
		q     *mat.SymDense
		g     *mat.Dense
	}
}

// New returns an empty PoseGraph for robot id in dimension d (2 or 3).
func New(id poseid.RobotID, d int) *PoseGraph {
	return &PoseGraph{
		id:            id,
		d:             d,
		neighborIndex: make(map[poseid.PoseID]int),
	}
}

// ID returns the owning robot's ID.
func (g *PoseGraph) ID() poseid.RobotID { return g.id }

// D returns the ambient rotation dimension.
func (g *PoseGraph) D() int { return g.d }

// NumPoses returns the number of poses owned by this robot.
func (g *PoseGraph) NumPoses() int { return g.numPoses }

// AddMeasurement appends one measurement to the appropriate partition
// and updates derived bookkeeping. Callers must hold the agent's
// measurements lock; PoseGraph does no locking of its own.
func (g *PoseGraph) AddMeasurement(m *measurement.RelativeSEMeasurement) error {
	if m.D() != g.d {
		return fmt.Errorf("posegraph: measurement dimension %d does not match graph dimension %d", m.D(), g.d)
	}
	if m.Src.RobotID != g.id && m.Dst.RobotID != g.id {
		return fmt.Errorf("posegraph: measurement %v touches neither robot %d", m, g.id)
	}

	switch {
	case !m.IsInterRobot():
		g.trackOwnFrame(m.Src.FrameID)
		g.trackOwnFrame(m.Dst.FrameID)
		if m.IsOdometry() {
			g.odometry = append(g.odometry, m)
		} else {
			g.privateLoopClosures = append(g.privateLoopClosures, m)
		}
	default:
		g.sharedLoopClosures = append(g.sharedLoopClosures, m)
		if m.Src.RobotID == g.id {
			g.trackOwnFrame(m.Src.FrameID)
			g.trackNeighbor(m.Dst)
		} else {
			g.trackOwnFrame(m.Dst.FrameID)
			g.trackNeighbor(m.Src)
		}
	}

	g.invalidate()
	return nil
}

// SetMeasurements replaces the entire graph contents wholesale.
func (g *PoseGraph) SetMeasurements(odometry, privateLoopClosures, sharedLoopClosures []*measurement.RelativeSEMeasurement) error {
	g.odometry = nil
	g.privateLoopClosures = nil
	g.sharedLoopClosures = nil
	g.neighborIndex = make(map[poseid.PoseID]int)
	g.neighborOrder = nil
	g.numPoses = 0
	g.invalidate()

	for _, m := range odometry {
		if err := g.AddMeasurement(m); err != nil {
			return err
		}
	}
	for _, m := range privateLoopClosures {
		if err := g.AddMeasurement(m); err != nil {
			return err
		}
	}
	for _, m := range sharedLoopClosures {
		if err := g.AddMeasurement(m); err != nil {
			return err
		}
	}
	return nil
}

func (g *PoseGraph) trackOwnFrame(f poseid.FrameID) {
	if int(f)+1 > g.numPoses {
		g.numPoses = int(f) + 1
	}
}

func (g *PoseGraph) trackNeighbor(p poseid.PoseID) {
	if _, ok := g.neighborIndex[p]; ok {
		return
	}
	g.neighborIndex[p] = len(g.neighborOrder)
	g.neighborOrder = append(g.neighborOrder, p)
}

// Odometry returns the odometry edges (consecutive own-robot frames).
func (g *PoseGraph) Odometry() []*measurement.RelativeSEMeasurement { return g.odometry }

// PrivateLoopClosures returns the non-consecutive own-robot edges.
func (g *PoseGraph) PrivateLoopClosures() []*measurement.RelativeSEMeasurement {
	return g.privateLoopClosures
}

// SharedLoopClosures returns the inter-robot edges.
func (g *PoseGraph) SharedLoopClosures() []*measurement.RelativeSEMeasurement {
	return g.sharedLoopClosures
}

// AllMeasurements returns every measurement this graph owns, in the
// order odometry, private loop closures, shared loop closures.
func (g *PoseGraph) AllMeasurements() []*measurement.RelativeSEMeasurement {
	out := make([]*measurement.RelativeSEMeasurement, 0, len(g.odometry)+len(g.privateLoopClosures)+len(g.sharedLoopClosures))
	out = append(out, g.odometry...)
	out = append(out, g.privateLoopClosures...)
	out = append(out, g.sharedLoopClosures...)
	return out
}

// MyPublicPoseIDs returns the own PoseIDs referenced by at least one
// shared loop closure.
func (g *PoseGraph) MyPublicPoseIDs() []poseid.PoseID {
	seen := make(map[poseid.PoseID]bool)
	var out []poseid.PoseID
	for _, m := range g.sharedLoopClosures {
		var mine poseid.PoseID
		if m.Src.RobotID == g.id {
			mine = m.Src
		} else {
			mine = m.Dst
		}
		if !seen[mine] {
			seen[mine] = true
			out = append(out, mine)
		}
	}
	return out
}

// NeighborPublicPoseIDs returns the neighbor PoseIDs referenced by any
// shared loop closure, in first-seen order — the same order used for
// G's columns.
func (g *PoseGraph) NeighborPublicPoseIDs() []poseid.PoseID {
	out := make([]poseid.PoseID, len(g.neighborOrder))
	copy(out, g.neighborOrder)
	return out
}

// NeighborIndex returns the dense column index assigned to neighbor
// pose p, or (-1, false) if p is not referenced by this graph.
func (g *PoseGraph) NeighborIndex(p poseid.PoseID) (int, bool) {
	idx, ok := g.neighborIndex[p]
	if !ok {
		return -1, false
	}
	return idx, true
}

// NumNeighborPoses returns the number of distinct neighbor poses
// referenced by shared loop closures.
func (g *PoseGraph) NumNeighborPoses() int { return len(g.neighborOrder) }

// invalidate clears cached Q, G. Must be called whenever a
// measurement is added or a weight changes.
func (g *PoseGraph) invalidate() {
	g.cache.valid = false
	g.cache.q = nil
	g.cache.g = nil
}

// InvalidateCache is the exported form of invalidate, called by the
// agent's robust-reweighting step whenever it changes measurement
// weights in place.
func (g *PoseGraph) InvalidateCache() { g.invalidate() }
