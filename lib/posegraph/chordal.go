// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/pose"
)

// ChordalInitialize computes an SE(d) initial trajectory for this
// graph's own poses from its own-own edges only: solve the rotation
// connection Laplacian system with pose 0 pinned to anchor, round
// each solved block back onto SO(d), then recover translations via
// the pseudoinverse of B1 with the first pose's columns dropped.
//
// Pose 0's rotation is fixed to anchor.Rotation() and its translation
// to the zero vector, pinning the first pose to the origin.
func (g *PoseGraph) ChordalInitialize(anchor pose.RigidPose) ([]pose.RigidPose, error) {
	d := g.d
	n := g.numPoses
	if n == 0 {
		return nil, fmt.Errorf("posegraph: cannot initialize an empty graph")
	}
	if anchor.D() != d {
		return nil, fmt.Errorf("posegraph: anchor dimension %d does not match graph dimension %d", anchor.D(), d)
	}

	rotations, err := g.solveConnectionLaplacian(anchor.Rotation())
	if err != nil {
		return nil, err
	}

	b := g.ConstructBMatrices()
	translations := recoverTranslations(b.B1, b.B2, rotations, d, n)

	out := make([]pose.RigidPose, n)
	for i := 0; i < n; i++ {
		r := rotations[i]
		t := mat.NewVecDense(d, nil)
		for k := 0; k < d; k++ {
			t.SetVec(k, translations.At(k, i))
		}
		p, err := pose.NewRigidPose(d, r, t)
		if err != nil {
			return nil, fmt.Errorf("posegraph: chordal init produced invalid pose %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// solveConnectionLaplacian fixes pose 0's rotation to anchor and
// solves the connection Laplacian's reduced linear system for poses
// 1..n-1: L_ff * R_f = -L_f0 * anchor, then rounds each resulting
// d x d block back onto SO(d) via manifold.ProjectToRotationGroup,
// since the unconstrained linear solve does not produce orthogonal
// blocks in general.
func (g *PoseGraph) solveConnectionLaplacian(anchor *mat.Dense) ([]*mat.Dense, error) {
	d := g.d
	n := g.numPoses
	l := g.ConnectionLaplacian()

	rotations := make([]*mat.Dense, n)
	rotations[0] = manifold.ProjectToRotationGroup(anchor)

	if n == 1 {
		return rotations, nil
	}

	free := d * (n - 1)
	lff := l.Slice(d, d+free, d, d+free).(*mat.Dense)
	lf0 := l.Slice(d, d+free, 0, d).(*mat.Dense)

	var rhs mat.Dense
	rhs.Mul(lf0, rotations[0])
	rhs.Scale(-1, &rhs)

	var rf mat.Dense
	if err := rf.Solve(lff, &rhs); err != nil {
		return nil, fmt.Errorf("posegraph: connection Laplacian solve failed: %w", err)
	}

	for i := 1; i < n; i++ {
		block := rf.Slice((i-1)*d, i*d, 0, d)
		rotations[i] = manifold.ProjectToRotationGroup(block)
	}
	return rotations, nil
}

// recoverTranslations solves B1red*t = -B2*vec(R) in the least-squares
// sense via QR, pinning pose 0's translation to the origin.
func recoverTranslations(b1, b2 *mat.Dense, rotations []*mat.Dense, d, n int) *mat.Dense {
	rvec := mat.NewVecDense(d*d*n, nil)
	for i, r := range rotations {
		for c := 0; c < d; c++ {
			for row := 0; row < d; row++ {
				rvec.SetVec(d*d*i+d*c+row, r.At(row, c))
			}
		}
	}

	var c mat.VecDense
	c.MulVec(b2, rvec)

	_, cols := b1.Dims()
	b1red := b1.Slice(0, b1.RawMatrix().Rows, d, cols).(*mat.Dense)

	var qr mat.QR
	qr.Factorize(b1red)
	var tred mat.VecDense
	if err := qr.SolveVecTo(&tred, false, &c); err != nil {
		// A rank-deficient B1red (e.g. a disconnected graph) leaves
		// tred at its zero value; ChordalInitialize still returns a
		// usable, if degenerate, trajectory rather than failing.
		tred = *mat.NewVecDense(free(d, n), nil)
	}
	tred.ScaleVec(-1, &tred)

	t := mat.NewDense(d, n, nil)
	for i := 1; i < n; i++ {
		for k := 0; k < d; k++ {
			t.Set(k, i, tred.AtVec((i-1)*d+k))
		}
	}
	return t
}

func free(d, n int) int { return d * (n - 1) }
