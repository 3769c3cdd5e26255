// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/distributed-pgo/dpgo/lib/pose"
	"github.com/distributed-pgo/dpgo/lib/quadratic"
)

// RGDConfig holds the tunables for Riemannian gradient descent with
// backtracking line search.
type RGDConfig struct {
	InitialStepSize    float64
	BacktrackFactor    float64
	MaxLineSearchSteps int
	MaxIterations      int
	GradientTolerance  float64
}

// DefaultRGDConfig returns reasonable backtracking-line-search
// defaults.
func DefaultRGDConfig() RGDConfig {
	return RGDConfig{
		InitialStepSize:    1,
		BacktrackFactor:    0.5,
		MaxLineSearchSteps: 20,
		MaxIterations:      100,
		GradientTolerance:  1e-2,
	}
}

// RGD runs Riemannian gradient descent with Armijo backtracking: at
// each iterate, step along the negative Riemannian gradient,
// retracting, and halve the step until the Armijo sufficient-decrease
// condition holds or the line-search budget is exhausted. Exhausting
// the line-search budget without decrease simply stops at the current
// iterate rather than failing.
func RGD(problem quadratic.TrustRegionProblem, x0 *pose.LiftedPoseArray, cfg RGDConfig) Result {
	x := x0
	cost := problem.Cost(x)
	success := false

	iter := 0
	for ; iter < cfg.MaxIterations; iter++ {
		grad := problem.Gradient(x)
		gradNorm := norm(grad)
		if gradNorm <= cfg.GradientTolerance {
			success = true
			break
		}

		direction := scaled(grad, -1)
		step := cfg.InitialStepSize
		improved := false

		for ls := 0; ls < cfg.MaxLineSearchSteps; ls++ {
			candidate := problem.Retract(x, scaled(direction, step))
			candidateCost := problem.Cost(candidate)
			// Armijo: require decrease proportional to step*||grad||^2.
			if candidateCost <= cost-1e-4*step*gradNorm*gradNorm {
				x = candidate
				cost = candidateCost
				improved = true
				break
			}
			step *= cfg.BacktrackFactor
		}

		if !improved {
			break
		}
	}

	return Result{X: x, Success: success, Iterations: iter, FinalCost: cost}
}
