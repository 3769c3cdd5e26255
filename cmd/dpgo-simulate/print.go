// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// printTrajectories writes each robot's local-frame trajectory to
// stdout: one line per pose, the rotation matrix flattened row-major
// followed by the translation vector.
func printTrajectories(result roundResult) {
	for b := 0; ; b++ {
		traj, ok := result.trajectories[poseid.RobotID(b)]
		if !ok {
			break
		}
		fmt.Printf("robot %d: %d poses\n", b, len(traj))
		for i, p := range traj {
			rows, cols := p.Rotation().Dims()
			fmt.Printf("  pose %d: R=[", i)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					fmt.Printf("%.4f ", p.Rotation().At(r, c))
				}
			}
			fmt.Printf("] t=[")
			for k := 0; k < p.Translation().Len(); k++ {
				fmt.Printf("%.4f ", p.Translation().AtVec(k))
			}
			fmt.Printf("]\n")
		}
	}
}
