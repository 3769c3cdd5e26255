// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package optimizer implements two Riemannian solvers: RTR
// (Riemannian trust region) and RGD (Riemannian gradient descent).
// Both depend only on the quadratic.TrustRegionProblem capability set
// {f, grad, hess_vec, retract, project_tangent}, so either driver
// works unmodified against any cost that implements it.
package optimizer

import (
	"math"

	"github.com/distributed-pgo/dpgo/lib/pose"
)

// innerProduct is the ambient Euclidean inner product, used as the
// Riemannian metric on the embedded product manifold (the standard
// choice for Stiefel-submanifold optimization: the tangent spaces are
// linear subspaces of the ambient matrix space, and the embedding
// metric restricts to a valid Riemannian metric on them).
func innerProduct(a, b *pose.LiftedPoseArray) float64 {
	ar := a.Data.RawMatrix().Data
	br := b.Data.RawMatrix().Data
	sum := 0.0
	for i := range ar {
		sum += ar[i] * br[i]
	}
	return sum
}

func norm(a *pose.LiftedPoseArray) float64 {
	return math.Sqrt(innerProduct(a, a))
}

func scaled(a *pose.LiftedPoseArray, c float64) *pose.LiftedPoseArray {
	out := a.Clone()
	out.Data.Scale(c, out.Data)
	return out
}

func added(a, b *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	out := a.Clone()
	out.Data.Add(out.Data, b.Data)
	return out
}

// Result reports the outcome of a solver run. A solver never throws
// on non-convergence: Result.Success reports whether the
// gradient-norm tolerance was met, but X always holds the best
// iterate seen (the starting point, if even the first step made
// things worse).
type Result struct {
	X          *pose.LiftedPoseArray
	Success    bool
	Iterations int
	FinalCost  float64
}
