// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sort"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// team is the result of splitting a single-robot trajectory across a
// simulated multi-robot team: every robot's own measurements
// (odometry, private loop closures, and the shared loop closures it
// participates in) and its own pose count.
type team struct {
	measurements map[poseid.RobotID][]*measurement.RelativeSEMeasurement
	numPoses     map[poseid.RobotID]int
}

// partition splits a single-robot trajectory of numPoses frames,
// connected by edges addressed entirely to robot 0, into teamSize
// contiguous blocks, one per simulated robot. There is no multi-robot
// partitioning concept in classic g2o or in a synthetic single-robot
// generator, so this logic has no source to ground on; it is an
// independent design built only to give cmd/dpgo-simulate something
// to drive a team with.
//
// Frames are assigned to blocks as evenly as possible (the first
// numPoses%teamSize blocks get one extra frame) and renumbered to
// start at 0 within their own robot. An edge whose two endpoints land
// in the same block keeps both endpoints on that robot — posegraph's
// own classification (IsOdometry/IsInterRobot) then sorts it into
// odometry or a private loop closure automatically. An edge whose
// endpoints land in different blocks becomes a shared loop closure: a
// separate copy is added to each of the two owning robots, since each
// robot's own reweighting must be free to diverge from its
// neighbor's.
func partition(edges []*measurement.RelativeSEMeasurement, numPoses, teamSize int) team {
	bounds := blockBounds(numPoses, teamSize)

	owner := func(frame int) poseid.RobotID {
		for b := teamSize - 1; b >= 0; b-- {
			if frame >= bounds[b] {
				return poseid.RobotID(b)
			}
		}
		return 0
	}
	local := func(frame int, robot poseid.RobotID) poseid.FrameID {
		return poseid.FrameID(frame - bounds[robot])
	}

	t := team{
		measurements: make(map[poseid.RobotID][]*measurement.RelativeSEMeasurement, teamSize),
		numPoses:     make(map[poseid.RobotID]int, teamSize),
	}
	for b := 0; b < teamSize; b++ {
		t.numPoses[poseid.RobotID(b)] = bounds[b+1] - bounds[b]
	}

	for _, m := range edges {
		srcFrame, dstFrame := int(m.Src.FrameID), int(m.Dst.FrameID)
		srcOwner, dstOwner := owner(srcFrame), owner(dstFrame)
		newSrc := poseid.NewPoseID(srcOwner, local(srcFrame, srcOwner))
		newDst := poseid.NewPoseID(dstOwner, local(dstFrame, dstOwner))

		if srcOwner == dstOwner {
			t.measurements[srcOwner] = append(t.measurements[srcOwner], remap(m, newSrc, newDst))
			continue
		}
		t.measurements[srcOwner] = append(t.measurements[srcOwner], remap(m, newSrc, newDst))
		t.measurements[dstOwner] = append(t.measurements[dstOwner], remap(m, newSrc, newDst))
	}

	for b := 0; b < teamSize; b++ {
		id := poseid.RobotID(b)
		sort.Slice(t.measurements[id], func(i, j int) bool {
			return t.measurements[id][i].Src.FrameID < t.measurements[id][j].Src.FrameID
		})
	}
	return t
}

// blockBounds returns teamSize+1 frame boundaries: block b owns
// frames [bounds[b], bounds[b+1]).
func blockBounds(numPoses, teamSize int) []int {
	base := numPoses / teamSize
	remainder := numPoses % teamSize

	bounds := make([]int, teamSize+1)
	frame := 0
	for b := 0; b < teamSize; b++ {
		bounds[b] = frame
		size := base
		if b < remainder {
			size++
		}
		frame += size
	}
	bounds[teamSize] = frame
	return bounds
}

// remap returns a copy of m addressed to newSrc/newDst, preserving
// every other field. Shared edges need an independent copy per owning
// robot, so a fresh struct is returned rather than mutating m in
// place.
func remap(m *measurement.RelativeSEMeasurement, newSrc, newDst poseid.PoseID) *measurement.RelativeSEMeasurement {
	out := *m
	out.Src = newSrc
	out.Dst = newDst
	return &out
}
