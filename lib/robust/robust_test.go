// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package robust

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

func TestL2AlwaysFullWeight(t *testing.T) {
	c := NewCost(L2, 1)
	if w := c.Weight(1000); w != 1 {
		t.Fatalf("L2 weight = %v, want 1", w)
	}
}

func TestTLSRejectsLargeResidual(t *testing.T) {
	c := NewCost(TLS, 1)
	c.Mu = 1
	if w := c.Weight(1000); w != 0 {
		t.Fatalf("TLS weight for huge residual = %v, want 0", w)
	}
	if w := c.Weight(0); w != 1 {
		t.Fatalf("TLS weight for zero residual = %v, want 1", w)
	}
}

func TestUpdateAnnealsTowardMinMu(t *testing.T) {
	c := NewCost(TLS, 100)
	for i := 0; i < 50; i++ {
		c.Update()
	}
	if c.Mu != c.MinMu {
		t.Fatalf("Mu after many updates = %v, want MinMu = %v", c.Mu, c.MinMu)
	}
}

func newMeasurement(t *testing.T) *measurement.RelativeSEMeasurement {
	t.Helper()
	r := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	tv := mat.NewVecDense(2, []float64{0, 0})
	m, err := measurement.New(poseid.NewPoseID(0, 0), poseid.NewPoseID(0, 5), r, tv, 1, 1)
	if err != nil {
		t.Fatalf("measurement.New: %v", err)
	}
	return m
}

func TestClassifyRejectsLowWeight(t *testing.T) {
	c := NewCost(TLS, 1)
	m := newMeasurement(t)
	m.Weight = 0.01
	c.Classify(m)
	if m.Class != measurement.Rejected {
		t.Fatalf("Class = %v, want Rejected", m.Class)
	}
}

func TestClassifyAcceptsHighWeight(t *testing.T) {
	c := NewCost(TLS, 1)
	m := newMeasurement(t)
	m.Weight = 0.99
	c.Classify(m)
	if m.Class != measurement.Accepted {
		t.Fatalf("Class = %v, want Accepted", m.Class)
	}
}

func TestReweightSkipsFixedAndKnownInlier(t *testing.T) {
	c := NewCost(TLS, 1)
	c.Mu = 1

	fixed := newMeasurement(t)
	fixed.FixedWeight = true
	fixed.Weight = 1
	c.Reweight(fixed, 1000)
	if fixed.Weight != 1 {
		t.Fatalf("FixedWeight edge weight changed to %v", fixed.Weight)
	}

	known := newMeasurement(t)
	known.KnownInlier = true
	known.Weight = 1
	c.Reweight(known, 1000)
	if known.Weight != 1 {
		t.Fatalf("KnownInlier edge weight changed to %v", known.Weight)
	}
}
