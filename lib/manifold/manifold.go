// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifold implements the product manifold M = (St(d,r) x
// R^r)^n that an agent's lifted pose array lives on: Project,
// ProjectToRotationGroup, Retract, TangentProject, and
// RandomInManifold. Every operation acts block-wise: the translation
// column of each block is Euclidean (unconstrained), and the frame
// columns live on the Stiefel manifold St(d,r).
//
// Rather than a class hierarchy of "variable" types, the manifold is
// exposed as a stateless set of functions operating directly on
// *pose.LiftedPoseArray values.
package manifold

import (
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/pose"
)

// ProjectStiefel projects an arbitrary r x d matrix onto St(d,r) via
// thin SVD: M = U*Sigma*V^T -> U*V^T. Panics if r < d, a precondition
// violation.
func ProjectStiefel(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	if rows < cols {
		panic(fmt.Sprintf("manifold: ProjectStiefel requires r >= d, got %dx%d", rows, cols))
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		panic("manifold: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var out mat.Dense
	out.Mul(&u, v.T())
	return &out
}

// ProjectToRotationGroup projects a square d x d matrix onto SO(d): the
// same thin-SVD projection as ProjectStiefel, except the sign of the
// last column of U is flipped whenever det(U)*det(V) < 0, so the
// result always has determinant +1.
func ProjectToRotationGroup(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	if rows != cols {
		panic(fmt.Sprintf("manifold: ProjectToRotationGroup requires a square matrix, got %dx%d", rows, cols))
	}
	d := rows

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		panic("manifold: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	if mat.Det(&u)*mat.Det(&v) < 0 {
		for i := 0; i < d; i++ {
			u.Set(i, d-1, -u.At(i, d-1))
		}
	}

	var out mat.Dense
	out.Mul(&u, v.T())
	return &out
}

// Project projects every block of x onto M in place: the frame columns
// of each block are projected onto St(d,r); translation columns are
// left unchanged.
func Project(x *pose.LiftedPoseArray) {
	for i := 0; i < x.N(); i++ {
		block := x.Pose(i)
		projected := ProjectStiefel(block.Frame())
		block.Frame().Copy(projected)
	}
}

// Projected returns a new array equal to x with every block projected
// onto M, leaving x unmodified.
func Projected(x *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	out := x.Clone()
	Project(out)
	return out
}

// qrUnique returns the Q factor of the thin QR decomposition of m
// (rows x cols, rows >= cols), with the sign of each column fixed so
// that the corresponding diagonal entry of R is non-negative. This is
// the "positive" QR-retraction convention used throughout Riemannian
// optimization on the Stiefel manifold.
func qrUnique(rows, cols int, m mat.Matrix) *mat.Dense {
	var qr mat.QR
	qr.Factorize(m)

	var fullQ mat.Dense
	qr.QTo(&fullQ)
	q := mat.NewDense(rows, cols, nil)
	q.Copy(fullQ.Slice(0, rows, 0, cols))

	var r mat.Dense
	qr.RTo(&r)
	for j := 0; j < cols; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < rows; i++ {
				q.Set(i, j, -q.At(i, j))
			}
		}
	}
	return q
}

// Retract applies the Stiefel QR-retraction R_X(eta) block-wise: for
// each block, the new frame is qf(Y + eta_Y) (the Q factor of the
// positive-diagonal thin QR); the new translation is simply p +
// eta_p, since the Euclidean factor's retraction is the identity.
// Returns a new array; x and eta are unmodified.
func Retract(x, eta *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	requireSameShape(x, eta)
	out := pose.NewLiftedPoseArray(x.R(), x.D(), x.N())
	for i := 0; i < x.N(); i++ {
		xb, etab, ob := x.Pose(i), eta.Pose(i), out.Pose(i)

		var sum mat.Dense
		sum.Add(xb.Frame(), etab.Frame())
		ob.Frame().Copy(qrUnique(x.R(), x.D(), &sum))

		var t mat.VecDense
		t.AddVec(xb.Translation(), etab.Translation())
		ob.Translation().CopyVec(&t)
	}
	return out
}

// TangentProject projects an ambient matrix z (same shape as x) onto
// the tangent space of M at x, block-wise. For the Stiefel factor,
// the tangent projection at Y is Z_Y - Y*sym(Y^T Z_Y), where sym(A) =
// (A + A^T)/2. The Euclidean factor has no constraint, so its
// component passes through unchanged.
func TangentProject(x, z *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	requireSameShape(x, z)
	out := pose.NewLiftedPoseArray(x.R(), x.D(), x.N())
	for i := 0; i < x.N(); i++ {
		xb, zb, ob := x.Pose(i), z.Pose(i), out.Pose(i)

		y := xb.Frame()
		zy := zb.Frame()

		var yTz mat.Dense
		yTz.Mul(y.T(), zy)
		sym := symmetrize(&yTz)

		var ySym mat.Dense
		ySym.Mul(y, sym)

		var proj mat.Dense
		proj.Sub(zy, &ySym)
		ob.Frame().Copy(&proj)

		ob.Translation().CopyVec(zb.Translation())
	}
	return out
}

func symmetrize(a *mat.Dense) *mat.Dense {
	var at, sum mat.Dense
	at.CloneFrom(a.T())
	sum.Add(a, &at)
	sum.Scale(0.5, &sum)
	return &sum
}

func requireSameShape(a, b *pose.LiftedPoseArray) {
	if a.R() != b.R() || a.D() != b.D() || a.N() != b.N() {
		panic("manifold: operands have mismatched (r,d,n)")
	}
}

// RandomInManifold returns a uniformly random point of M: each block's
// frame is the Q-factor of a thin QR of a standard-Gaussian r x d
// matrix (the standard construction for a uniform random Stiefel
// point), and each translation is a standard-Gaussian r-vector.
//
// If rng is nil, a new source seeded from the current time is created
// for the call; pass an explicit *rand.Rand (e.g. rand.New(rand.NewSource(seed)))
// for deterministic, reproducible test fixtures.
func RandomInManifold(r, d, n int, rng *rand.Rand) *pose.LiftedPoseArray {
	if rng == nil {
		rng = defaultRand()
	}
	out := pose.NewLiftedPoseArray(r, d, n)
	for i := 0; i < n; i++ {
		block := out.Pose(i)

		gaussian := mat.NewDense(r, d, nil)
		for row := 0; row < r; row++ {
			for col := 0; col < d; col++ {
				gaussian.Set(row, col, rng.NormFloat64())
			}
		}
		block.Frame().Copy(qrUnique(r, d, gaussian))

		for row := 0; row < r; row++ {
			block.Translation().SetVec(row, rng.NormFloat64())
		}
	}
	return out
}

func defaultRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
