// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"math"

	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/quadratic"
)

// RTRConfig holds the trust-region tunables: initial trust region
// radius rho0 (100 for the distributed main loop, 10 for local
// chordal-bootstrap solves), the inner truncated-CG iteration cap
// k_in (10/50), and the gradient-norm tolerance tau_g (1e-2/1e-1).
type RTRConfig struct {
	InitialRadius      float64
	MaxRadius          float64
	MaxOuterIterations int
	MaxInnerIterations int
	GradientTolerance  float64
}

// DefaultDistributedRTRConfig returns the tunables for the main
// distributed loop's single-outer-iteration call.
func DefaultDistributedRTRConfig() RTRConfig {
	return RTRConfig{
		InitialRadius:      100,
		MaxRadius:          1000,
		MaxOuterIterations: 1,
		MaxInnerIterations: 10,
		GradientTolerance:  1e-2,
	}
}

// DefaultLocalRTRConfig returns the tunables for the local
// chordal-bootstrap solve.
func DefaultLocalRTRConfig() RTRConfig {
	return RTRConfig{
		InitialRadius:      10,
		MaxRadius:          1000,
		MaxOuterIterations: 50,
		MaxInnerIterations: 50,
		GradientTolerance:  1e-1,
	}
}

// RTR runs Riemannian trust-region optimization from x0, following
// the standard outer loop (Absil, Baker & Gallivan): a truncated-CG
// (Steihaug-Toint) inner solve for the trust-region subproblem, an
// accept/reject test on the ratio of actual to model reduction, and
// radius shrink/grow per the standard thresholds. A non-convergent
// run still returns the best iterate found, never an error.
func RTR(problem quadratic.TrustRegionProblem, x0 *pose.LiftedPoseArray, cfg RTRConfig) Result {
	x := x0
	cost := problem.Cost(x)
	radius := cfg.InitialRadius
	success := false

	outer := 0
	for ; outer < cfg.MaxOuterIterations; outer++ {
		grad := problem.Gradient(x)
		gradNorm := norm(grad)
		if gradNorm <= cfg.GradientTolerance {
			success = true
			break
		}

		eta, modelReduction := truncatedCG(problem, x, grad, radius, cfg.MaxInnerIterations)
		etaNorm := norm(eta)

		candidate := problem.Retract(x, eta)
		candidateCost := problem.Cost(candidate)
		actualReduction := cost - candidateCost

		rho := 0.0
		if modelReduction > 0 {
			rho = actualReduction / modelReduction
		}

		switch {
		case rho < 0.25:
			radius *= 0.25
		case rho > 0.75 && etaNorm >= 0.99*radius:
			radius = math.Min(2*radius, cfg.MaxRadius)
		}

		if rho > 0.1 && actualReduction > 0 {
			x = candidate
			cost = candidateCost
		}
	}

	return Result{X: x, Success: success, Iterations: outer, FinalCost: cost}
}

// truncatedCG solves the trust-region subproblem min_eta <grad,eta> +
// 0.5<H(eta),eta> s.t. ||eta|| <= radius, eta in T_x M, via
// Steihaug-Toint truncated conjugate gradient, stopping at the trust
// region boundary or on negative curvature. Returns the step and the
// model's predicted reduction -(<grad,eta> + 0.5<H(eta),eta>).
func truncatedCG(problem quadratic.TrustRegionProblem, x, grad *pose.LiftedPoseArray, radius float64, maxIters int) (*pose.LiftedPoseArray, float64) {
	eta := scaled(grad, 0) // zero vector of the right shape
	r := grad
	d := scaled(grad, -1)
	rr := innerProduct(r, r)

	modelValue := func(eta *pose.LiftedPoseArray) float64 {
		hEta := problem.HessianVector(x, eta)
		return innerProduct(grad, eta) + 0.5*innerProduct(hEta, eta)
	}

	if math.Sqrt(rr) < 1e-12 {
		return eta, 0
	}

	for i := 0; i < maxIters; i++ {
		hd := problem.HessianVector(x, d)
		dHd := innerProduct(d, hd)

		if dHd <= 0 {
			tau := boundaryStep(eta, d, radius)
			eta = added(eta, scaled(d, tau))
			break
		}

		alpha := rr / dHd
		candidateEta := added(eta, scaled(d, alpha))
		if norm(candidateEta) >= radius {
			tau := boundaryStep(eta, d, radius)
			eta = added(eta, scaled(d, tau))
			break
		}
		eta = candidateEta

		r = added(r, scaled(hd, alpha))
		rrNew := innerProduct(r, r)
		if math.Sqrt(rrNew) < 1e-10 {
			break
		}
		beta := rrNew / rr
		d = added(scaled(r, -1), scaled(d, beta))
		rr = rrNew
	}

	eta = problem.ProjectTangent(x, eta)
	return eta, -modelValue(eta)
}

// boundaryStep returns the positive tau such that ||eta + tau*d|| ==
// radius, the standard trust-region-boundary quadratic solve.
func boundaryStep(eta, d *pose.LiftedPoseArray, radius float64) float64 {
	dd := innerProduct(d, d)
	if dd < 1e-15 {
		return 0
	}
	ed := innerProduct(eta, d)
	ee := innerProduct(eta, eta)
	disc := ed*ed - dd*(ee-radius*radius)
	if disc < 0 {
		disc = 0
	}
	return (-ed + math.Sqrt(disc)) / dd
}
