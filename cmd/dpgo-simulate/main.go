// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// dpgo-simulate drives a small simulated multi-robot pose-graph
// optimization team from a single-robot trajectory: either loaded from
// a classic g2o file, or generated on the fly. The single trajectory
// is split across the requested team size, wired through an in-process
// transport hub, and iterated synchronously until every robot reports
// readyToTerminate or the iteration cap is hit. Each robot's resulting
// local trajectory is printed to stdout.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/distributed-pgo/dpgo/lib/agentconfig"
	"github.com/distributed-pgo/dpgo/lib/g2o"
	"github.com/distributed-pgo/dpgo/lib/measurement"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		g2oPath    string
		synthKind  string
		synthPoses int
		dim        int
		robots     int
		rank       int
		costKind   string
		maxIters   int
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("dpgo-simulate", pflag.ContinueOnError)
	flagSet.StringVar(&g2oPath, "g2o", "", "path to a classic g2o file (overrides --synth)")
	flagSet.StringVar(&synthKind, "synth", "loop", "synthetic trajectory kind when --g2o is not given: line or loop")
	flagSet.IntVar(&synthPoses, "synth-poses", 50, "number of synthetic poses")
	flagSet.IntVar(&dim, "dim", 3, "ambient rotation dimension for a synthetic trajectory (2 or 3)")
	flagSet.IntVar(&robots, "robots", 3, "number of simulated robots to split the trajectory across")
	flagSet.IntVar(&rank, "rank", 5, "lifted Stiefel rank (must be >= dim)")
	flagSet.StringVar(&costKind, "cost", "L2", "robust cost kind: L2, TLS, Huber, Tukey, or GM")
	flagSet.IntVar(&maxIters, "max-iters", 500, "maximum synchronous rounds before giving up on convergence")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, or error")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *help {
		printHelp(flagSet)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)}))

	var (
		edges    []*measurement.RelativeSEMeasurement
		numPoses int
	)
	if g2oPath != "" {
		f, err := os.Open(g2oPath)
		if err != nil {
			return fmt.Errorf("dpgo-simulate: %w", err)
		}
		defer f.Close()

		loaded, n, err := g2o.Load(f, logger)
		if err != nil {
			return fmt.Errorf("dpgo-simulate: loading %s: %w", g2oPath, err)
		}
		edges = loaded
		numPoses = n
		dim = loaded[0].D()
	} else {
		loaded, err := synthesize(synthKind, synthPoses, dim)
		if err != nil {
			return fmt.Errorf("dpgo-simulate: %w", err)
		}
		edges = loaded
		numPoses = synthPoses
	}

	if rank < dim {
		return fmt.Errorf("dpgo-simulate: --rank %d must be >= --dim %d", rank, dim)
	}
	if robots < 1 {
		return fmt.Errorf("dpgo-simulate: --robots must be positive, got %d", robots)
	}
	if robots > numPoses {
		return fmt.Errorf("dpgo-simulate: --robots %d exceeds pose count %d", robots, numPoses)
	}

	cfg := agentconfig.Default()
	cfg.CostKind = costKind
	cfg.MaxNumIters = maxIters
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("dpgo-simulate: %w", err)
	}

	t := partition(edges, numPoses, robots)

	result, err := simulateTeam(t, rank, dim, robots, cfg, logger)
	if err != nil {
		return fmt.Errorf("dpgo-simulate: %w", err)
	}

	if result.converged {
		fmt.Printf("converged after %d rounds\n", result.rounds)
	} else {
		fmt.Printf("reached the %d-round cap without convergence\n", result.rounds)
	}
	printTrajectories(result)
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `dpgo-simulate — run a simulated multi-robot pose-graph optimization team.

Loads a single-robot trajectory (from a g2o file, or synthesized),
splits it across the requested number of simulated robots, and runs
them to convergence over an in-process transport.

Usage: dpgo-simulate [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
