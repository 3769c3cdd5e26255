// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package quadratic

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/pose"
)

func randomSymDense(n int, rng *rand.Rand) *mat.SymDense {
	base := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			base.Set(i, j, rng.NormFloat64())
		}
	}
	var sym mat.Dense
	sym.Mul(base.T(), base) // PSD by construction
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, sym.At(i, j))
		}
	}
	return out
}

func randomLiftedArray(r, d, n int, rng *rand.Rand) *pose.LiftedPoseArray {
	a := pose.NewLiftedPoseArray(r, d, n)
	for i := range a.Data.RawMatrix().Data {
		a.Data.RawMatrix().Data[i] = rng.NormFloat64()
	}
	return a
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	r, d, n := 3, 2, 2
	p := Problem{Q: randomSymDense(n*(d+1), rng)}

	x := randomLiftedArray(r, d, n, rng)
	grad := p.EuclideanGradient(x)

	const eps = 1e-6
	row, col := 1, 0

	perturbed := x.Clone()
	perturbed.Data.Set(row, col, perturbed.Data.At(row, col)+eps)
	up := p.Cost(perturbed)

	perturbed.Data.Set(row, col, perturbed.Data.At(row, col)-2*eps)
	down := p.Cost(perturbed)

	numeric := (up - down) / (2 * eps)
	analytic := grad.Data.At(row, col)
	if math.Abs(numeric-analytic) > 1e-3 {
		t.Fatalf("gradient mismatch at (%d,%d): numeric=%v analytic=%v", row, col, numeric, analytic)
	}
}

func TestCostWithoutNeighborsIgnoresG(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	r, d, n := 2, 2, 1
	p := Problem{Q: mat.NewSymDense(n*(d+1), nil), G: nil}
	x := randomLiftedArray(r, d, n, rng)
	if got := p.Cost(x); got != 0 {
		t.Fatalf("Cost() = %v, want 0 for a zero Q", got)
	}
}

func TestHessianVectorLinearInV(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	r, d, n := 2, 2, 2
	p := Problem{Q: randomSymDense(n*(d+1), rng)}
	v := randomLiftedArray(r, d, n, rng)

	hv := p.HessianVector(v)
	scaled := v.Clone()
	scaled.Data.Scale(3, scaled.Data)
	hvScaled := p.HessianVector(scaled)

	for i := range hv.Data.RawMatrix().Data {
		want := 3 * hv.Data.RawMatrix().Data[i]
		got := hvScaled.Data.RawMatrix().Data[i]
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("H*(3v)[%d] = %v, want %v", i, got, want)
		}
	}
}
