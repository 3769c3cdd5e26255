// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package manifold

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/pose"
)

func denseEqual(t *testing.T, a, b mat.Matrix, tol float64) {
	t.Helper()
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		t.Fatalf("shape mismatch: %dx%d vs %dx%d", ar, ac, br, bc)
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tol {
				t.Fatalf("element (%d,%d): %v vs %v", i, j, a.At(i, j), b.At(i, j))
			}
		}
	}
}

func TestProjectStiefelIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := mat.NewDense(5, 3, nil)
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}

	once := ProjectStiefel(m)
	twice := ProjectStiefel(once)
	denseEqual(t, once, twice, 1e-9)
}

func TestProjectStiefelOrthonormal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	proj := ProjectStiefel(m)
	var yty mat.Dense
	yty.Mul(proj.T(), proj)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(yty.At(i, j)-want) > 1e-8 {
				t.Fatalf("Y^T Y (%d,%d) = %v, want %v", i, j, yty.At(i, j), want)
			}
		}
	}
}

func TestProjectToRotationGroupDeterminant(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 20; trial++ {
		m := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m.Set(i, j, rng.NormFloat64())
			}
		}
		r := ProjectToRotationGroup(m)
		det := mat.Det(r)
		if math.Abs(det-1) > 1e-8 {
			t.Fatalf("trial %d: det(R) = %v, want 1", trial, det)
		}
	}
}

func TestRetractProducesManifoldPoint(t *testing.T) {
	x := RandomInManifold(4, 2, 3, rand.New(rand.NewSource(1)))
	eta := pose.NewLiftedPoseArray(4, 2, 3)
	rng := rand.New(rand.NewSource(2))
	for i := range eta.Data.RawMatrix().Data {
		eta.Data.RawMatrix().Data[i] = 0.05 * rng.NormFloat64()
	}
	eta = TangentProject(x, eta)

	retracted := Retract(x, eta)
	for i := 0; i < retracted.N(); i++ {
		block := retracted.Pose(i)
		if err := block.FrameOrthogonalityError(); err > 1e-8 {
			t.Fatalf("block %d frame orthogonality error = %v", i, err)
		}
	}
}

func TestRandomInManifoldDeterministic(t *testing.T) {
	a := RandomInManifold(3, 2, 2, rand.New(rand.NewSource(123)))
	b := RandomInManifold(3, 2, 2, rand.New(rand.NewSource(123)))
	denseEqual(t, a.Data, b.Data, 0)
}

func TestTangentProjectIsTangent(t *testing.T) {
	x := RandomInManifold(5, 3, 2, rand.New(rand.NewSource(5)))
	z := pose.NewLiftedPoseArray(5, 3, 2)
	rng := rand.New(rand.NewSource(6))
	for i := range z.Data.RawMatrix().Data {
		z.Data.RawMatrix().Data[i] = rng.NormFloat64()
	}
	proj := TangentProject(x, z)

	for i := 0; i < x.N(); i++ {
		y := x.Pose(i).Frame()
		eta := proj.Pose(i).Frame()
		var yTeta mat.Dense
		yTeta.Mul(y.T(), eta)
		var sym mat.Dense
		sym.Add(&yTeta, yTeta.T())
		if n := mat.Norm(&sym, 2); n > 1e-8 {
			t.Fatalf("block %d: Y^T eta + eta^T Y not ~0, norm = %v", i, n)
		}
	}
}
