// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package pose defines the pose representations shared across the
// pose-graph-optimization core: the rigid transform RigidPose, its
// rank-relaxed counterpart LiftedPose, and the column-concatenated
// LiftedPoseArray used as an agent's iterate.
package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RigidPose is a rigid-body transform in SE(d): a d x (d+1) block
// [R | t] with R in SO(d) and t in R^d. d is either 2 or 3.
//
// RigidPose owns its backing matrix; callers that need a read-only
// view should clone before sharing across goroutines.
type RigidPose struct {
	d    int
	data *mat.Dense // d x (d+1)
}

// Identity returns the RigidPose [I | 0] in dimension d.
func Identity(d int) RigidPose {
	data := mat.NewDense(d, d+1, nil)
	for i := 0; i < d; i++ {
		data.Set(i, i, 1)
	}
	return RigidPose{d: d, data: data}
}

// NewRigidPose constructs a RigidPose from a rotation matrix and
// translation vector. It does not validate that R is orthonormal;
// callers that need that guarantee should check R.RotationError or
// project via manifold.ProjectToRotationGroup first.
func NewRigidPose(d int, r mat.Matrix, t mat.Vector) (RigidPose, error) {
	rr, rc := r.Dims()
	if rr != d || rc != d {
		return RigidPose{}, fmt.Errorf("pose: rotation block is %dx%d, want %dx%d", rr, rc, d, d)
	}
	if t.Len() != d {
		return RigidPose{}, fmt.Errorf("pose: translation has length %d, want %d", t.Len(), d)
	}
	data := mat.NewDense(d, d+1, nil)
	data.Slice(0, d, 0, d).(*mat.Dense).Copy(r)
	for i := 0; i < d; i++ {
		data.Set(i, d, t.AtVec(i))
	}
	return RigidPose{d: d, data: data}, nil
}

// D returns the ambient dimension (2 or 3).
func (p RigidPose) D() int { return p.d }

// Rotation returns a mutable view onto the d x d rotation block.
func (p RigidPose) Rotation() *mat.Dense {
	return p.data.Slice(0, p.d, 0, p.d).(*mat.Dense)
}

// Translation returns a mutable view onto the length-d translation
// column.
func (p RigidPose) Translation() *mat.VecDense {
	return p.data.ColView(p.d).(*mat.VecDense)
}

// Matrix returns the underlying d x (d+1) block [R | t].
func (p RigidPose) Matrix() *mat.Dense { return p.data }

// Clone returns a deep copy of p.
func (p RigidPose) Clone() RigidPose {
	data := mat.NewDense(p.d, p.d+1, nil)
	data.Copy(p.data)
	return RigidPose{d: p.d, data: data}
}

// Compose returns p * q, composing two rigid transforms in the same
// dimension: R = Rp*Rq, t = Rp*tq + tp.
func (p RigidPose) Compose(q RigidPose) RigidPose {
	var r mat.Dense
	r.Mul(p.Rotation(), q.Rotation())

	var t mat.VecDense
	t.MulVec(p.Rotation(), q.Translation())
	t.AddVec(&t, p.Translation())

	out, err := NewRigidPose(p.d, &r, &t)
	if err != nil {
		panic(fmt.Sprintf("pose: Compose produced invalid block: %v", err))
	}
	return out
}

// Inverse returns the rigid-transform inverse: R' = Rt, t' = -Rt*t.
func (p RigidPose) Inverse() RigidPose {
	var rt mat.Dense
	rt.CloneFrom(p.Rotation().T())

	var t mat.VecDense
	t.MulVec(&rt, p.Translation())
	t.ScaleVec(-1, &t)

	out, err := NewRigidPose(p.d, &rt, &t)
	if err != nil {
		panic(fmt.Sprintf("pose: Inverse produced invalid block: %v", err))
	}
	return out
}

// RotationError measures how far the rotation block is from SO(d),
// as max(||R^T R - I||_F, |det(R) - 1|).
func (p RigidPose) RotationError() float64 {
	r := p.Rotation()
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < p.d; i++ {
		rtr.Set(i, i, rtr.At(i, i)-1)
	}
	orthoErr := mat.Norm(&rtr, 2)
	detErr := math.Abs(mat.Det(r) - 1)
	if detErr > orthoErr {
		return detErr
	}
	return orthoErr
}
