// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentconfig loads the tunables an Agent needs from a single
// YAML file. There is no environment-specific override layer here —
// unlike a deployed service, an agent instance has no notion of
// development/staging/production — so loading is a straight unmarshal
// onto documented defaults.
package agentconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/distributed-pgo/dpgo/lib/robust"
)

// AgentConfig holds every tunable named across the agent's
// components: the iteration scheduler, acceleration, robust
// reweighting, the two optimizers, and frame alignment.
type AgentConfig struct {
	// MRate is the executor's tick rate, in Hz, of the exponential
	// (Poisson) inter-tick interval.
	MRate float64 `yaml:"m_rate"`

	// RelChangeTol is the relative-change threshold below which an
	// iteration reports readyToTerminate (pending the other
	// termination conditions).
	RelChangeTol float64 `yaml:"rel_change_tol"`

	// MaxNumIters caps iterationNumber; exceeding it forces team
	// termination regardless of convergence.
	MaxNumIters int `yaml:"max_num_iters"`

	// RestartInterval is the number of accelerated iterations between
	// Nesterov restarts.
	RestartInterval int `yaml:"restart_interval"`

	// CostKind selects the GNC robust cost family (L2, TLS, Huber,
	// Tukey, GM).
	CostKind string `yaml:"cost_kind"`

	// RobustOptInnerIters is the number of agent iterations between
	// reweighting rounds. Ignored when CostKind is L2.
	RobustOptInnerIters int `yaml:"robust_opt_inner_iters"`

	// RobustOptWarmStart, if false, resets X to XInit after every
	// reweighting round instead of continuing from the current
	// iterate.
	RobustOptWarmStart bool `yaml:"robust_opt_warm_start"`

	// RobustOptMinConvergenceRatio is the minimum fraction of loop
	// closures that must be Accepted or Rejected (not Undecided)
	// before readyToTerminate can be true.
	RobustOptMinConvergenceRatio float64 `yaml:"robust_opt_min_convergence_ratio"`

	// RobustInitMinInliers is the minimum number of frame-alignment
	// candidates that must survive robust averaging for the alignment
	// to be accepted.
	RobustInitMinInliers int `yaml:"robust_init_min_inliers"`

	// GNCInitialMu seeds the GNC cost's evolving scale.
	GNCInitialMu float64 `yaml:"gnc_initial_mu"`

	// RTR holds the distributed-loop trust-region parameters.
	RTR RTRConfig `yaml:"rtr"`

	// LocalRTR holds the chordal-bootstrap trust-region parameters.
	LocalRTR RTRConfig `yaml:"local_rtr"`
}

// RTRConfig mirrors optimizer.RTRConfig with YAML tags, so a config
// file can override the defaults without importing the optimizer
// package's Go types directly.
type RTRConfig struct {
	InitialRadius      float64 `yaml:"initial_radius"`
	MaxRadius          float64 `yaml:"max_radius"`
	MaxOuterIterations int     `yaml:"max_outer_iterations"`
	MaxInnerIterations int     `yaml:"max_inner_iterations"`
	GradientTolerance  float64 `yaml:"gradient_tolerance"`
}

// Default returns the documented defaults: a moderate tick rate, the
// distributed/local RTR defaults, and the non-robust L2 cost.
func Default() AgentConfig {
	return AgentConfig{
		MRate:                        1,
		RelChangeTol:                 1e-4,
		MaxNumIters:                  1000,
		RestartInterval:              50,
		CostKind:                     "L2",
		RobustOptInnerIters:          10,
		RobustOptWarmStart:           true,
		RobustOptMinConvergenceRatio: 0.8,
		RobustInitMinInliers:         1,
		GNCInitialMu:                 1,
		RTR: RTRConfig{
			InitialRadius:      100,
			MaxRadius:          1000,
			MaxOuterIterations: 1,
			MaxInnerIterations: 10,
			GradientTolerance:  1e-2,
		},
		LocalRTR: RTRConfig{
			InitialRadius:      10,
			MaxRadius:          1000,
			MaxOuterIterations: 50,
			MaxInnerIterations: 50,
			GradientTolerance:  1e-1,
		},
	}
}

// LoadFile reads and unmarshals a YAML config file onto Default.
func LoadFile(path string) (AgentConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("reading agent config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("parsing agent config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Validate checks the parsed config for internally inconsistent
// values that would otherwise surface later as confusing runtime
// behavior.
func (c AgentConfig) Validate() error {
	if c.MRate <= 0 {
		return fmt.Errorf("agentconfig: m_rate must be positive, got %v", c.MRate)
	}
	if _, err := robust.ParseKind(c.CostKind); err != nil {
		return fmt.Errorf("agentconfig: %w", err)
	}
	if c.RestartInterval <= 0 {
		return fmt.Errorf("agentconfig: restart_interval must be positive, got %d", c.RestartInterval)
	}
	return nil
}

// ToOptimizerConfig converts the YAML-facing RTRConfig into the
// optimizer package's type. Defined here (rather than a method on the
// optimizer type) to keep optimizer free of a dependency on
// agentconfig.
func (r RTRConfig) ToOptimizerConfig() (initialRadius, maxRadius float64, maxOuter, maxInner int, gradTol float64) {
	return r.InitialRadius, r.MaxRadius, r.MaxOuterIterations, r.MaxInnerIterations, r.GradientTolerance
}
