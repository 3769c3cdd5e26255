// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package pose

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LiftedPose is a single pose on the lifted manifold St(d,r) x R^r: an
// r x (d+1) block [Y | p] with Y in St(d,r) (an orthonormal d-frame in
// R^r) and p in R^r. LiftedPose is a thin view; it does not own
// backing storage — see LiftedPoseArray.
type LiftedPose struct {
	r, d int
	data *mat.Dense // r x (d+1), may be a view into a larger array
}

// NewLiftedPose wraps an existing r x (d+1) block as a LiftedPose.
// The caller retains ownership of data; mutations through the
// returned LiftedPose write through to it.
func NewLiftedPose(r, d int, data *mat.Dense) (LiftedPose, error) {
	rows, cols := data.Dims()
	if rows != r || cols != d+1 {
		return LiftedPose{}, fmt.Errorf("pose: lifted block is %dx%d, want %dx%d", rows, cols, r, d+1)
	}
	return LiftedPose{r: r, d: d, data: data}, nil
}

// R returns the lifted rank.
func (p LiftedPose) R() int { return p.r }

// D returns the ambient rotation dimension.
func (p LiftedPose) D() int { return p.d }

// Frame returns a mutable view onto the r x d Stiefel frame Y.
func (p LiftedPose) Frame() *mat.Dense {
	return p.data.Slice(0, p.r, 0, p.d).(*mat.Dense)
}

// Translation returns a mutable view onto the length-r translation
// column p.
func (p LiftedPose) Translation() *mat.VecDense {
	return p.data.ColView(p.d).(*mat.VecDense)
}

// Matrix returns the underlying r x (d+1) block.
func (p LiftedPose) Matrix() *mat.Dense { return p.data }

// FrameOrthogonalityError measures ||Y^T Y - I_d||_F, the Stiefel
// orthogonality invariant every lifted frame block must satisfy.
func (p LiftedPose) FrameOrthogonalityError() float64 {
	y := p.Frame()
	var yty mat.Dense
	yty.Mul(y.T(), y)
	for i := 0; i < p.d; i++ {
		yty.Set(i, i, yty.At(i, i)-1)
	}
	return mat.Norm(&yty, 2)
}

// LiftedPoseArray is the column-concatenation of n LiftedPose blocks:
// an r x n*(d+1) matrix. It is the representation of an agent's
// iterate X, auxiliary Y, momentum V, and previous XPrev.
type LiftedPoseArray struct {
	r, d, n int
	Data    *mat.Dense // r x n*(d+1)
}

// NewLiftedPoseArray allocates a zero-initialized array of n blocks.
func NewLiftedPoseArray(r, d, n int) *LiftedPoseArray {
	return &LiftedPoseArray{r: r, d: d, n: n, Data: mat.NewDense(r, n*(d+1), nil)}
}

// WrapLiftedPoseArray wraps an existing r x n*(d+1) matrix.
func WrapLiftedPoseArray(r, d, n int, data *mat.Dense) (*LiftedPoseArray, error) {
	rows, cols := data.Dims()
	if rows != r || cols != n*(d+1) {
		return nil, fmt.Errorf("pose: lifted array is %dx%d, want %dx%d", rows, cols, r, n*(d+1))
	}
	return &LiftedPoseArray{r: r, d: d, n: n, Data: data}, nil
}

// R returns the lifted rank.
func (a *LiftedPoseArray) R() int { return a.r }

// D returns the ambient rotation dimension.
func (a *LiftedPoseArray) D() int { return a.d }

// N returns the number of poses held.
func (a *LiftedPoseArray) N() int { return a.n }

// Pose returns a LiftedPose view onto block i. Mutations through the
// view write back into a.Data.
func (a *LiftedPoseArray) Pose(i int) LiftedPose {
	if i < 0 || i >= a.n {
		panic(fmt.Sprintf("pose: pose index %d out of range [0,%d)", i, a.n))
	}
	col := i * (a.d + 1)
	block := a.Data.Slice(0, a.r, col, col+a.d+1).(*mat.Dense)
	return LiftedPose{r: a.r, d: a.d, data: block}
}

// Clone returns a deep copy of the array.
func (a *LiftedPoseArray) Clone() *LiftedPoseArray {
	out := NewLiftedPoseArray(a.r, a.d, a.n)
	out.Data.Copy(a.Data)
	return out
}

// CopyFrom overwrites a's data with b's. Panics if dimensions differ;
// callers that built both arrays from the same (r,d,n) never trigger
// this.
func (a *LiftedPoseArray) CopyFrom(b *LiftedPoseArray) {
	if a.r != b.r || a.d != b.d || a.n != b.n {
		panic("pose: CopyFrom dimension mismatch")
	}
	a.Data.Copy(b.Data)
}

// RotationColumns returns, for each of the n blocks, the [start, end)
// range of Data columns holding that block's d rotation-frame columns
// (every translation column is excluded).
func (a *LiftedPoseArray) RotationColumns() [][2]int {
	cols := make([][2]int, a.n)
	for i := 0; i < a.n; i++ {
		base := i * (a.d + 1)
		cols[i] = [2]int{base, base + a.d}
	}
	return cols
}
