// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package quadratic implements the local Riemannian quadratic
// subproblem one robot solves each iteration: given the current
// iterate X and fixed neighbor data X_N, f(X) = tr(X Q Xᵀ) +
// 2·tr(X G X_Nᵀ), together with its Euclidean and Riemannian
// gradients and Hessian-vector product, and the TrustRegionProblem
// adapter that is the optimizer's plug point.
package quadratic

import (
	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/manifold"
	"github.com/distributed-pgo/dpgo/lib/pose"
)

// Problem bundles the fixed data (Q, G, the neighbor array X_N) of one
// local quadratic subproblem.
type Problem struct {
	Q  *mat.SymDense       // n(d+1) x n(d+1)
	G  *mat.Dense          // n(d+1) x numNeighbors(d+1), may be nil if there are no neighbors
	XN *pose.LiftedPoseArray // r x numNeighbors(d+1), may be nil if there are no neighbors
}

// Cost returns f(X) = tr(X Q Xᵀ) + 2·tr(X G X_Nᵀ).
func (p Problem) Cost(x *pose.LiftedPoseArray) float64 {
	var xq mat.Dense
	xq.Mul(x.Data, p.Q)
	var xqxt mat.Dense
	xqxt.Mul(&xq, x.Data.T())
	cost := mat.Trace(&xqxt)

	if p.XN != nil && p.XN.N() > 0 {
		var xg mat.Dense
		xg.Mul(x.Data, p.G)
		var xgxnt mat.Dense
		xgxnt.Mul(&xg, p.XN.Data.T())
		cost += 2 * mat.Trace(&xgxnt)
	}
	return cost
}

// EuclideanGradient returns ∇f = 2(X Q + X_N Gᵀ).
func (p Problem) EuclideanGradient(x *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	var xq mat.Dense
	xq.Mul(x.Data, p.Q)

	if p.XN != nil && p.XN.N() > 0 {
		var xngt mat.Dense
		xngt.Mul(p.XN.Data, p.G.T())
		xq.Add(&xq, &xngt)
	}
	xq.Scale(2, &xq)

	out, err := pose.WrapLiftedPoseArray(x.R(), x.D(), x.N(), &xq)
	if err != nil {
		panic(err)
	}
	return out
}

// HessianVector returns H·v = 2·v·Q for ambient vector v (same shape
// as X).
func (p Problem) HessianVector(v *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	var hv mat.Dense
	hv.Mul(v.Data, p.Q)
	hv.Scale(2, &hv)

	out, err := pose.WrapLiftedPoseArray(v.R(), v.D(), v.N(), &hv)
	if err != nil {
		panic(err)
	}
	return out
}

// RiemannianGradient projects the Euclidean gradient onto the tangent
// space of M at x.
func (p Problem) RiemannianGradient(x *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return manifold.TangentProject(x, p.EuclideanGradient(x))
}

// RiemannianHessianVector returns the tangent-space projection of the
// Euclidean Hessian-vector product at x along tangent vector v, the
// standard "projected Hessian" approximation used by RTR drivers that
// do not carry full second-order manifold curvature terms.
func (p Problem) RiemannianHessianVector(x, v *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return manifold.TangentProject(x, p.HessianVector(v))
}

// TrustRegionProblem is the capability set the optimizer's drivers
// plug into: {f, grad, hess_vec, retract, project_tangent}. RTR and
// RGD in lib/optimizer depend only on this interface, never on
// Problem directly, so a different cost (or a future sparse
// implementation) can be swapped in without touching the drivers.
type TrustRegionProblem interface {
	Cost(x *pose.LiftedPoseArray) float64
	Gradient(x *pose.LiftedPoseArray) *pose.LiftedPoseArray
	HessianVector(x, v *pose.LiftedPoseArray) *pose.LiftedPoseArray
	Retract(x, eta *pose.LiftedPoseArray) *pose.LiftedPoseArray
	ProjectTangent(x, z *pose.LiftedPoseArray) *pose.LiftedPoseArray
}

// AsTrustRegionProblem adapts Problem to the TrustRegionProblem
// interface, using the manifold package's Retract and TangentProject
// for the manifold-specific operations.
func (p Problem) AsTrustRegionProblem() TrustRegionProblem {
	return trustRegionAdapter{p}
}

type trustRegionAdapter struct {
	p Problem
}

func (a trustRegionAdapter) Cost(x *pose.LiftedPoseArray) float64 { return a.p.Cost(x) }

func (a trustRegionAdapter) Gradient(x *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return a.p.RiemannianGradient(x)
}

func (a trustRegionAdapter) HessianVector(x, v *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return a.p.RiemannianHessianVector(x, v)
}

func (a trustRegionAdapter) Retract(x, eta *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return manifold.Retract(x, eta)
}

func (a trustRegionAdapter) ProjectTangent(x, z *pose.LiftedPoseArray) *pose.LiftedPoseArray {
	return manifold.TangentProject(x, z)
}
