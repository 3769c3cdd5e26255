// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package robust implements the graduated non-convexity (GNC) robust
// cost kernel used to down-weight outlier loop closures: an evolving
// scale that anneals across outer rounds, a residual-to-weight
// mapping per cost kind, and the fixed-threshold accept/reject/undecided
// classification applied to each edge's current weight.
package robust

import (
	"fmt"
	"math"

	"github.com/distributed-pgo/dpgo/lib/measurement"
)

// Kind selects the robust cost family.
type Kind int

const (
	L2 Kind = iota
	TLS
	Huber
	Tukey
	GM
)

func (k Kind) String() string {
	switch k {
	case L2:
		return "L2"
	case TLS:
		return "TLS"
	case Huber:
		return "Huber"
	case Tukey:
		return "Tukey"
	case GM:
		return "GM"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "L2":
		return L2, nil
	case "TLS":
		return TLS, nil
	case "Huber":
		return Huber, nil
	case "Tukey":
		return Tukey, nil
	case "GM":
		return GM, nil
	default:
		return 0, fmt.Errorf("robust: unknown cost kind %q", s)
	}
}

// Cost holds the GNC schedule state: the evolving scale mu, shrinking
// across outer rounds, and the fixed classification thresholds.
type Cost struct {
	Kind Kind

	// Mu is the current GNC scale. Update shrinks it by ShrinkFactor
	// toward MinMu for every Kind; for TLS a large Mu is loose and a
	// Mu near 1 is tight.
	Mu float64

	// ShrinkFactor scales Mu by on each Update call.
	ShrinkFactor float64
	// MinMu is the floor Mu anneals toward.
	MinMu float64

	// EpsilonReject, EpsilonAccept are the fixed classification
	// thresholds: an edge with weight < EpsilonReject is rejected;
	// an edge with weight > 1-EpsilonAccept is accepted.
	EpsilonReject float64
	EpsilonAccept float64
}

// NewCost returns a Cost of the given kind whose GNC scale starts at
// the caller-supplied initialMu. The standard TLS initialization
// mu0 = 2*maxResidualSq/barC is not computed here, since the maximum
// residual is only known once the first batch of residuals has been
// observed.
func NewCost(kind Kind, initialMu float64) Cost {
	return Cost{
		Kind:          kind,
		Mu:            initialMu,
		ShrinkFactor:  1.4,
		MinMu:         1,
		EpsilonReject: 0.1,
		EpsilonAccept: 0.1,
	}
}

// Weight returns w in [0,1] mapping a squared residual (already
// scaled by the measurement's nominal precision) to a reweighting
// factor, per the cost kind's kernel.
func (c Cost) Weight(residualSq float64) float64 {
	switch c.Kind {
	case L2:
		return 1
	case TLS:
		return tlsWeight(residualSq, c.Mu)
	case Huber:
		return huberWeight(residualSq, c.Mu)
	case Tukey:
		return tukeyWeight(residualSq, c.Mu)
	case GM:
		return gmWeight(residualSq, c.Mu)
	default:
		return 1
	}
}

// tlsWeight is the GNC-TLS closed-form weight update: full weight
// below the lower threshold, zero above the upper threshold, and a
// smooth interpolation between them that tightens as mu shrinks.
func tlsWeight(residualSq, mu float64) float64 {
	th1 := (mu + 1) / mu
	th2 := mu / (mu + 1)
	switch {
	case residualSq <= th2:
		return 1
	case residualSq >= th1:
		return 0
	default:
		return math.Sqrt(mu*(mu+1)/residualSq) - mu
	}
}

func huberWeight(residualSq, delta float64) float64 {
	r := math.Sqrt(residualSq)
	if r <= delta {
		return 1
	}
	return delta / r
}

func tukeyWeight(residualSq, c float64) float64 {
	if residualSq >= c*c {
		return 0
	}
	ratio := residualSq / (c * c)
	return (1 - ratio) * (1 - ratio)
}

func gmWeight(residualSq, c float64) float64 {
	denom := c + residualSq
	return (c / denom) * (c / denom)
}

// Update advances mu by one GNC annealing step, shrinking toward
// MinMu (for TLS/GM-style schedules that tighten the kernel across
// rounds).
func (c *Cost) Update() {
	c.Mu /= c.ShrinkFactor
	if c.Mu < c.MinMu {
		c.Mu = c.MinMu
	}
}

// Reweight recomputes m.Weight from its current residual-derived
// squared error and reclassifies it, unless the edge is pinned
// (FixedWeight) or exempt (KnownInlier).
func (c Cost) Reweight(m *measurement.RelativeSEMeasurement, residualSq float64) {
	if m.FixedWeight || m.KnownInlier {
		return
	}
	m.Weight = c.Weight(residualSq)
	c.Classify(m)
}

// Classify updates m.Class from its current weight against the fixed
// thresholds, leaving KnownInlier edges always Accepted and
// FixedWeight edges at whatever classification they already carry
// (odometry edges are never reclassified, since they are never
// reweighted).
func (c Cost) Classify(m *measurement.RelativeSEMeasurement) {
	if m.KnownInlier {
		m.Class = measurement.Accepted
		return
	}
	switch {
	case m.Weight < c.EpsilonReject:
		m.Class = measurement.Rejected
	case m.Weight > 1-c.EpsilonAccept:
		m.Class = measurement.Accepted
	default:
		m.Class = measurement.Undecided
	}
}
