// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

// Package g2o loads single-robot pose graphs from the classic g2o
// text format: EDGE_SE2 and EDGE_SE3:QUAT relative measurements,
// VERTEX_SE2/VERTEX_SE3:QUAT informational vertices, and FIX
// directives. There is no multi-robot partitioning syntax in classic
// g2o, so every loaded measurement is addressed to robot 0.
package g2o

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
	"github.com/distributed-pgo/dpgo/lib/poseid"
)

// Load parses a g2o file from r and returns its measurements
// (addressed to robot 0) and the number of poses. Pose IDs are
// required to form a consecutive integer range; if the range does not
// start at 0 they are reindexed down to start at 0, with a warning.
// FIX lines are rejected with a warning but do not abort loading;
// VERTEX_* lines are skipped as purely informational. Any other
// unrecognized token, or a non-consecutive pose ID range, is fatal.
func Load(r io.Reader, logger *slog.Logger) ([]*measurement.RelativeSEMeasurement, int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var edges []*measurement.RelativeSEMeasurement
	poseIDs := make(map[int]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		var token string
		if _, err := fmt.Sscanf(line, "%s", &token); err != nil {
			continue // blank/whitespace-only line
		}

		switch token {
		case "EDGE_SE2":
			m, err := parseEdgeSE2(line)
			if err != nil {
				return nil, 0, fmt.Errorf("g2o: line %d: %w", lineNum, err)
			}
			edges = append(edges, m)
			poseIDs[int(m.Src.FrameID)] = struct{}{}
			poseIDs[int(m.Dst.FrameID)] = struct{}{}

		case "EDGE_SE3:QUAT":
			m, err := parseEdgeSE3Quat(line)
			if err != nil {
				return nil, 0, fmt.Errorf("g2o: line %d: %w", lineNum, err)
			}
			edges = append(edges, m)
			poseIDs[int(m.Src.FrameID)] = struct{}{}
			poseIDs[int(m.Dst.FrameID)] = struct{}{}

		case "VERTEX_SE2", "VERTEX_SE3:QUAT":
			continue

		case "FIX":
			logger.Warn("g2o: FIX directive is not supported, skipping line", "line", lineNum)
			continue

		default:
			return nil, 0, fmt.Errorf("g2o: line %d: unrecognized token %q", lineNum, token)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("g2o: reading input: %w", err)
	}
	if len(poseIDs) == 0 {
		return nil, 0, fmt.Errorf("g2o: no measurements found")
	}

	ids := make([]int, 0, len(poseIDs))
	for id := range poseIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	first := ids[0]
	prev := first - 1
	for _, id := range ids {
		if id != prev+1 {
			return nil, 0, fmt.Errorf("g2o: invalid pose ID sequencing: [%d,%d]; pose IDs must be consecutive", prev, id)
		}
		prev = id
	}

	if first != 0 {
		logger.Warn("g2o: pose IDs do not start at 0, reindexing", "first_pose_id", first)
		for _, m := range edges {
			m.Src.FrameID -= poseid.FrameID(first)
			m.Dst.FrameID -= poseid.FrameID(first)
		}
	}

	return edges, len(ids), nil
}

func parseEdgeSE2(line string) (*measurement.RelativeSEMeasurement, error) {
	var tok string
	var i, j int
	var dx, dy, dtheta float64
	var i11, i12, i13, i22, i23, i33 float64

	n, err := fmt.Sscan(line, &tok, &i, &j, &dx, &dy, &dtheta, &i11, &i12, &i13, &i22, &i23, &i33)
	if err != nil || n != 12 {
		return nil, fmt.Errorf("malformed EDGE_SE2 line: %w", err)
	}

	r := mat.NewDense(2, 2, []float64{math.Cos(dtheta), -math.Sin(dtheta), math.Sin(dtheta), math.Cos(dtheta)})
	t := mat.NewVecDense(2, []float64{dx, dy})

	tranCov := mat.NewSymDense(2, []float64{i11, i12, i12, i22})
	tau, err := tauFromCovariance(tranCov, 2)
	if err != nil {
		return nil, fmt.Errorf("EDGE_SE2 %d-%d: %w", i, j, err)
	}
	kappa := i33

	return buildMeasurement(i, j, r, t, kappa, tau), nil
}

func parseEdgeSE3Quat(line string) (*measurement.RelativeSEMeasurement, error) {
	var tok string
	var i, j int
	var dx, dy, dz, dqx, dqy, dqz, dqw float64
	var i11, i12, i13, i14, i15, i16 float64
	var i22, i23, i24, i25, i26 float64
	var i33, i34, i35, i36 float64
	var i44, i45, i46 float64
	var i55, i56 float64
	var i66 float64

	n, err := fmt.Sscan(line, &tok, &i, &j, &dx, &dy, &dz, &dqx, &dqy, &dqz, &dqw,
		&i11, &i12, &i13, &i14, &i15, &i16,
		&i22, &i23, &i24, &i25, &i26,
		&i33, &i34, &i35, &i36,
		&i44, &i45, &i46,
		&i55, &i56,
		&i66)
	if err != nil || n != 31 {
		return nil, fmt.Errorf("malformed EDGE_SE3:QUAT line: %w", err)
	}

	r := quaternionToRotation(dqx, dqy, dqz, dqw)
	t := mat.NewVecDense(3, []float64{dx, dy, dz})

	tranCov := mat.NewSymDense(3, []float64{i11, i12, i13, i12, i22, i23, i13, i23, i33})
	tau, err := tauFromCovariance(tranCov, 3)
	if err != nil {
		return nil, fmt.Errorf("EDGE_SE3:QUAT %d-%d: %w", i, j, err)
	}

	rotCov := mat.NewSymDense(3, []float64{i44, i45, i46, i45, i55, i56, i46, i56, i66})
	kappa, err := kappaFromCovariance(rotCov, 3)
	if err != nil {
		return nil, fmt.Errorf("EDGE_SE3:QUAT %d-%d: %w", i, j, err)
	}

	return buildMeasurement(i, j, r, t, kappa, tau), nil
}

func buildMeasurement(i, j int, r *mat.Dense, t *mat.VecDense, kappa, tau float64) *measurement.RelativeSEMeasurement {
	src := poseid.NewPoseID(0, poseid.FrameID(i))
	dst := poseid.NewPoseID(0, poseid.FrameID(j))
	m, err := measurement.New(src, dst, r, t, kappa, tau)
	if err != nil {
		panic(fmt.Sprintf("g2o: malformed edge escaped parsing: %v", err))
	}
	m.FixedWeight = j == i+1
	return m
}

// tauFromCovariance returns the information-divergence-minimizing
// scalar precision d/tr(Sigma^-1) for a d-dimensional translation
// covariance, matching the original reader's convention.
func tauFromCovariance(cov *mat.SymDense, d int) (float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		return 0, fmt.Errorf("singular translation covariance: %w", err)
	}
	return float64(d) / mat.Trace(&inv), nil
}

// kappaFromCovariance returns d/(2*tr(Sigma^-1)) for a d-dimensional
// rotation covariance.
func kappaFromCovariance(cov *mat.SymDense, d int) (float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		return 0, fmt.Errorf("singular rotation covariance: %w", err)
	}
	return float64(d) / (2 * mat.Trace(&inv)), nil
}

// quaternionToRotation converts a unit quaternion (x,y,z,w) to its 3x3
// rotation matrix.
func quaternionToRotation(x, y, z, w float64) *mat.Dense {
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	return mat.NewDense(3, 3, []float64{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy),
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx),
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy),
	})
}
