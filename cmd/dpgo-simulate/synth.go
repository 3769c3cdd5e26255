// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// synthesize builds a single-robot pose graph without reading a g2o
// file: numPoses frames stepping forward by a fixed SE(d) increment,
// plus (for kind "loop") one loop-closure edge connecting the last
// frame back to the first. There is no reference generator for this
// in the original sources — real DPGO inputs always come from a g2o
// file — so the increment and precisions here are a plain, made-up
// stand-in good enough to exercise the pipeline end to end, not a
// ported algorithm.
func synthesize(kind string, numPoses, d int) ([]*measurement.RelativeSEMeasurement, error) {
	if numPoses < 2 {
		return nil, fmt.Errorf("synth: need at least 2 poses, got %d", numPoses)
	}
	if d != 2 && d != 3 {
		return nil, fmt.Errorf("synth: dimension must be 2 or 3, got %d", d)
	}

	var dtheta float64
	if kind == "loop" {
		dtheta = 2 * math.Pi / float64(numPoses)
	}
	step, err := stepPose(d, dtheta)
	if err != nil {
		return nil, err
	}

	trajectory := make([]pose.RigidPose, numPoses)
	trajectory[0] = pose.Identity(d)
	for i := 1; i < numPoses; i++ {
		trajectory[i] = trajectory[i-1].Compose(step)
	}

	const (
		odometryKappa = 1000.0
		odometryTau   = 1000.0
		loopKappa     = 10.0
		loopTau       = 10.0
	)

	edges := make([]*measurement.RelativeSEMeasurement, 0, numPoses)
	for i := 0; i < numPoses-1; i++ {
		m, err := measurement.New(
			poseid.NewPoseID(0, poseid.FrameID(i)),
			poseid.NewPoseID(0, poseid.FrameID(i+1)),
			step.Rotation(), step.Translation(), odometryKappa, odometryTau,
		)
		if err != nil {
			return nil, fmt.Errorf("synth: odometry edge %d: %w", i, err)
		}
		m.FixedWeight = true
		edges = append(edges, m)
	}

	if kind == "loop" {
		closure := trajectory[numPoses-1].Inverse().Compose(trajectory[0])
		m, err := measurement.New(
			poseid.NewPoseID(0, poseid.FrameID(numPoses-1)),
			poseid.NewPoseID(0, poseid.FrameID(0)),
			closure.Rotation(), closure.Translation(), loopKappa, loopTau,
		)
		if err != nil {
			return nil, fmt.Errorf("synth: loop closure edge: %w", err)
		}
		edges = append(edges, m)
	}

	return edges, nil
}

// stepPose returns the fixed SE(d) increment every synthetic odometry
// edge advances by: one unit forward along the local x-axis, with a
// rotation of dtheta about the last axis (the only axis in 2D, z in
// 3D).
func stepPose(d int, dtheta float64) (pose.RigidPose, error) {
	c, s := math.Cos(dtheta), math.Sin(dtheta)

	var r *mat.Dense
	var t *mat.VecDense
	switch d {
	case 2:
		r = mat.NewDense(2, 2, []float64{c, -s, s, c})
		t = mat.NewVecDense(2, []float64{1, 0})
	case 3:
		r = mat.NewDense(3, 3, []float64{
			c, -s, 0,
			s, c, 0,
			0, 0, 1,
		})
		t = mat.NewVecDense(3, []float64{1, 0, 0})
	default:
		return pose.RigidPose{}, fmt.Errorf("synth: unsupported dimension %d", d)
	}
	return pose.NewRigidPose(d, r, t)
}
