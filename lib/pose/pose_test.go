// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package pose

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestIdentityRotationError(t *testing.T) {
	p := Identity(3)
	if err := p.RotationError(); err > 1e-12 {
		t.Fatalf("RotationError() = %v, want ~0", err)
	}
}

func TestComposeInverseRoundTrip(t *testing.T) {
	theta := 0.7
	r := mat.NewDense(2, 2, []float64{math.Cos(theta), -math.Sin(theta), math.Sin(theta), math.Cos(theta)})
	tvec := mat.NewVecDense(2, []float64{1, 2})
	p, err := NewRigidPose(2, r, tvec)
	if err != nil {
		t.Fatalf("NewRigidPose: %v", err)
	}

	q := p.Compose(p.Inverse())
	if err := q.RotationError(); err > 1e-10 {
		t.Fatalf("Compose(Inverse) rotation error = %v", err)
	}
	tr := q.Translation()
	if math.Abs(tr.AtVec(0)) > 1e-10 || math.Abs(tr.AtVec(1)) > 1e-10 {
		t.Fatalf("Compose(Inverse) translation = (%v,%v), want (0,0)", tr.AtVec(0), tr.AtVec(1))
	}
}

func TestLiftedPoseArrayViewsWriteThrough(t *testing.T) {
	arr := NewLiftedPoseArray(3, 2, 4)
	for i := 0; i < 4; i++ {
		block := arr.Pose(i)
		for j := 0; j < 3; j++ {
			block.Translation().SetVec(j, float64(i))
		}
	}

	for i := 0; i < 4; i++ {
		col := i*3 + 2
		for j := 0; j < 3; j++ {
			if got := arr.Data.At(j, col); got != float64(i) {
				t.Fatalf("Data.At(%d,%d) = %v, want %v", j, col, got, i)
			}
		}
	}
}

func TestLiftedPoseArrayClone(t *testing.T) {
	arr := NewLiftedPoseArray(3, 2, 2)
	arr.Data.Set(0, 0, 5)
	clone := arr.Clone()
	clone.Data.Set(0, 0, 9)
	if arr.Data.At(0, 0) != 5 {
		t.Fatalf("Clone mutated original: got %v", arr.Data.At(0, 0))
	}
}

func TestWrapLiftedPoseArrayDimensionMismatch(t *testing.T) {
	data := mat.NewDense(3, 5, nil)
	if _, err := WrapLiftedPoseArray(3, 2, 2, data); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
