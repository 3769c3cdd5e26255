// Copyright 2026 The DPGO Authors
// SPDX-License-Identifier: Apache-2.0

package posegraph

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/distributed-pgo/dpgo/lib/measurement"
)

// ownIndex resolves a measurement endpoint to either an own-pose
// column index (0..numPoses-1) or a neighbor-pose column index, for
// whichever of B1/B2/B3 or Q/G construction needs it.
func (g *PoseGraph) ownIndex(m *measurement.RelativeSEMeasurement) (srcOwn, dstOwn bool, srcIdx, dstIdx int) {
	srcOwn = m.Src.RobotID == g.id
	dstOwn = m.Dst.RobotID == g.id
	if srcOwn {
		srcIdx = int(m.Src.FrameID)
	} else {
		srcIdx, _ = g.NeighborIndex(m.Src)
	}
	if dstOwn {
		dstIdx = int(m.Dst.FrameID)
	} else {
		dstIdx, _ = g.NeighborIndex(m.Dst)
	}
	return
}

// ConnectionLaplacian builds the dn x dn rotation connection Laplacian
// L = A*Omega*A^T over this graph's own poses only: for each edge
// (i,j,Rhat,kappa) with both endpoints own poses,
// L[i,i] += kappa*I_d, L[j,j] += kappa*I_d, L[i,j] -= kappa*Rhat,
// L[j,i] -= kappa*Rhat^T. Shared loop closures with an off-robot
// endpoint do not contribute, since the neighbor's rotation is not a
// free variable of this robot's chordal initialization.
func (g *PoseGraph) ConnectionLaplacian() *mat.Dense {
	d := g.d
	n := g.numPoses
	l := mat.NewDense(d*n, d*n, nil)

	addEdge := func(m *measurement.RelativeSEMeasurement) {
		srcOwn, dstOwn, i, j := g.ownIndex(m)
		if !srcOwn || !dstOwn {
			return
		}
		kappa := m.Weight * m.Kappa
		addBlock(l, i*d, i*d, d, d, kappa, identity(d))
		addBlock(l, j*d, j*d, d, d, kappa, identity(d))
		addBlock(l, i*d, j*d, d, d, -kappa, m.R)
		addBlock(l, j*d, i*d, d, d, -kappa, m.R.T())
	}
	for _, m := range g.odometry {
		addEdge(m)
	}
	for _, m := range g.privateLoopClosures {
		addEdge(m)
	}
	for _, m := range g.sharedLoopClosures {
		addEdge(m)
	}
	return l
}

func identity(d int) *mat.Dense {
	id := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// addBlock adds scale*block into dst at the given row/col offset.
func addBlock(dst *mat.Dense, rowOff, colOff, rows, cols int, scale float64, block mat.Matrix) {
	view := dst.Slice(rowOff, rowOff+rows, colOff, colOff+cols).(*mat.Dense)
	var scaled mat.Dense
	scaled.Scale(scale, block)
	view.Add(view, &scaled)
}

// BMatrices holds the sparse-in-spirit, dense-in-implementation B1,
// B2, B3 data matrices, in the classic (translation, vectorized-
// rotation) parameterization used for chordal translation recovery.
// Rows are indexed by (edge, dimension); B1's columns are
// indexed by (pose, dimension); B2 and B3's columns are indexed by
// (pose, rotation-matrix-entry) in column-major vec(R) order.
type BMatrices struct {
	B1 *mat.Dense // (d * numEdges) x (d * numPoses)
	B2 *mat.Dense // (d * numEdges) x (d^2 * numPoses)
	B3 *mat.Dense // (d^2 * numEdges) x (d^2 * numPoses)
}

// ConstructBMatrices builds B1, B2, B3 from this graph's own-own
// edges (odometry and private loop closures), following the exact
// coordinate formulas of the
// originating DPGO implementation: for edge e = (i -> j) with
// measurement (Rhat, that, kappa, tau) and dimension d,
//
//	B1[d*e+r, d*i+r]  -= sqrt(tau)       for r in 0..d
//	B1[d*e+r, d*j+r]  += sqrt(tau)
//	B2[d*e+r, d^2*i + d*k+r] -= sqrt(tau) * that(k)    for all k
//	B3[d^2*e + d*r+l, d^2*i + d*c+l] -= sqrt(kappa) * Rhat(c,r)     (Rhat^T (x) I_d, tail)
//	B3[d^2*e + d*c+r, d^2*j + d*c+r]  += sqrt(kappa)                (identity, head)
//
// Only own-own edges are included: a shared loop closure's neighbor
// endpoint has no local rotation/translation variable to solve for in
// this robot's chordal initialization.
func (g *PoseGraph) ConstructBMatrices() BMatrices {
	d := g.d
	n := g.numPoses

	var edges []*measurement.RelativeSEMeasurement
	for _, m := range g.odometry {
		edges = append(edges, m)
	}
	for _, m := range g.privateLoopClosures {
		edges = append(edges, m)
	}
	for _, m := range g.sharedLoopClosures {
		if !m.IsInterRobot() {
			edges = append(edges, m)
		}
	}

	numEdges := len(edges)
	b1 := mat.NewDense(d*numEdges, d*n, nil)
	b2 := mat.NewDense(d*numEdges, d*d*n, nil)
	b3 := mat.NewDense(d*d*numEdges, d*d*n, nil)

	for e, m := range edges {
		srcOwn, dstOwn, i, j := g.ownIndex(m)
		if !srcOwn || !dstOwn {
			continue
		}
		sqrtTau := sqrtPositive(m.Weight * m.Tau)
		sqrtKappa := sqrtPositive(m.Weight * m.Kappa)

		for r := 0; r < d; r++ {
			b1.Set(d*e+r, d*i+r, b1.At(d*e+r, d*i+r)-sqrtTau)
			b1.Set(d*e+r, d*j+r, b1.At(d*e+r, d*j+r)+sqrtTau)
			for k := 0; k < d; k++ {
				b2.Set(d*e+r, d*d*i+d*k+r, b2.At(d*e+r, d*d*i+d*k+r)-sqrtTau*m.T.AtVec(k))
			}
		}
		// Tail (Kronecker) block: -sqrt(kappa) * (Rhat^T (x) I_d).
		for r := 0; r < d; r++ {
			for c := 0; c < d; c++ {
				for l := 0; l < d; l++ {
					row := d*d*e + d*r + l
					col := d*d*i + d*c + l
					b3.Set(row, col, b3.At(row, col)-sqrtKappa*m.R.At(c, r))
				}
			}
		}
		// Head block: +sqrt(kappa) * I_{d^2}.
		for c := 0; c < d; c++ {
			for r := 0; r < d; r++ {
				row := d*d*e + d*c + r
				col := d*d*j + d*c + r
				b3.Set(row, col, b3.At(row, col)+sqrtKappa)
			}
		}
	}

	return BMatrices{B1: b1, B2: b2, B3: b3}
}

func sqrtPositive(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}

// QAndG builds the local quadratic cost matrices:
// f(X) = tr(X*Q*X^T) + 2*tr(X*G*X_N^T), with X the own r x n(d+1)
// lifted pose array and X_N the neighbor lifted pose array in the
// order NeighborPublicPoseIDs returns. Q (n(d+1) x n(d+1)) and G
// (n(d+1) x numNeighbors(d+1)) are assembled block-wise, one
// (d+1)x(d+1) contribution per edge, derived directly from the edge
// residual's Frobenius expansion rather than via the B-matrix Gram
// product — the two constructions are algebraically equivalent, but
// the block form avoids materializing the d^2*n-column intermediate.
//
// Per edge (i -> j, Rhat, that, kappa, tau):
//
//	Q[i,i].frame += kappa*I_d + tau*that*that^T
//	Q[j,j].frame += kappa*I_d          Q[i,i].rotTrans += tau*that
//	Q[i,j].frame -= kappa*Rhat         Q[i,i].transTrans += tau
//	Q[i,j].rotTrans -= tau*that        Q[j,j].transTrans += tau
//	Q[j,i] = Q[i,j]^T                  Q[i,j].transTrans -= tau
//
// and symmetrically into G when one endpoint is a neighbor pose (the
// own endpoint's diagonal terms still go into Q). G is nil when the
// graph references no neighbor poses.
func (g *PoseGraph) QAndG() (q *mat.SymDense, gMat *mat.Dense) {
	if g.cache.valid {
		return g.cache.q, g.cache.g
	}

	d := g.d
	n := g.numPoses
	numN := g.NumNeighborPoses()

	qFull := mat.NewDense(n*(d+1), n*(d+1), nil)
	var gFull *mat.Dense
	if numN > 0 {
		gFull = mat.NewDense(n*(d+1), numN*(d+1), nil)
	}

	accumulate := func(m *measurement.RelativeSEMeasurement) {
		srcOwn, dstOwn, i, j := g.ownIndex(m)
		kappa := m.Weight * m.Kappa
		tau := m.Weight * m.Tau

		switch {
		case srcOwn && dstOwn:
			addBlockEdge(qFull, i, j, d, kappa, tau, m.R, m.T)
		case srcOwn && !dstOwn:
			// i (own, tail) -> j (neighbor, head): contributes to G's
			// (i, j) block and the diagonal Q[i,i] term (the own-side
			// self-term of the Laplacian/translation expansion).
			addOwnSideDiag(qFull, i, d, kappa, tau, m.T)
			addCrossBlock(gFull, i, j, d, kappa, tau, m.R, m.T, true)
		case !srcOwn && dstOwn:
			// i (neighbor, tail) -> j (own, head): the own pose is the
			// head, which has no rotation/translation cross term, and
			// no rotation-translation coupling of its own (that term
			// only attaches to the tail).
			addOwnSideDiagHead(qFull, j, d, kappa, tau)
			addCrossBlock(gFull, j, i, d, kappa, tau, m.R, m.T, false)
		}
	}
	for _, m := range g.odometry {
		accumulate(m)
	}
	for _, m := range g.privateLoopClosures {
		accumulate(m)
	}
	for _, m := range g.sharedLoopClosures {
		accumulate(m)
	}

	sym := mat.NewSymDense(n*(d+1), nil)
	for i := 0; i < n*(d+1); i++ {
		for j := i; j < n*(d+1); j++ {
			sym.SetSym(i, j, qFull.At(i, j))
		}
	}

	g.cache.valid = true
	g.cache.q = sym
	g.cache.g = gFull
	return sym, gFull
}

// addBlockEdge adds one edge's own-own contribution to Q, for the
// edge i (tail) -> j (head).
func addBlockEdge(q *mat.Dense, i, j, d int, kappa, tau float64, rHat *mat.Dense, that *mat.VecDense) {
	bi, bj := i*(d+1), j*(d+1)

	// Diagonal blocks.
	var ttT mat.Dense
	ttT.Outer(1, that, that)
	addBlock(q, bi, bi, d, d, kappa, identity(d))
	addBlock(q, bi, bi, d, d, tau, &ttT)
	addBlock(q, bj, bj, d, d, kappa, identity(d))
	setVecColumn(q, bi, bi+d, d, tau, that)
	setVecRow(q, bi+d, bi, d, tau, that)
	q.Set(bi+d, bi+d, q.At(bi+d, bi+d)+tau)
	q.Set(bj+d, bj+d, q.At(bj+d, bj+d)+tau)

	// Off-diagonal block (i,j) and its transpose (j,i).
	addBlock(q, bi, bj, d, d, -kappa, rHat)
	addBlock(q, bj, bi, d, d, -kappa, rHat.T())
	setVecColumn(q, bi, bj+d, d, -tau, that)
	setVecRow(q, bj+d, bi, d, -tau, that)
	q.Set(bi+d, bj+d, q.At(bi+d, bj+d)-tau)
	q.Set(bj+d, bi+d, q.At(bj+d, bi+d)-tau)
}

// addOwnSideDiag adds the own-pose i's diagonal contribution when i is
// the tail of an edge whose head is a neighbor pose.
func addOwnSideDiag(q *mat.Dense, i, d int, kappa, tau float64, that *mat.VecDense) {
	bi := i * (d + 1)
	var ttT mat.Dense
	ttT.Outer(1, that, that)
	addBlock(q, bi, bi, d, d, kappa, identity(d))
	addBlock(q, bi, bi, d, d, tau, &ttT)
	setVecColumn(q, bi, bi+d, d, tau, that)
	setVecRow(q, bi+d, bi, d, tau, that)
	q.Set(bi+d, bi+d, q.At(bi+d, bi+d)+tau)
}

// addOwnSideDiagHead adds the own-pose j's diagonal contribution when
// j is the head of an edge whose tail is a neighbor pose.
func addOwnSideDiagHead(q *mat.Dense, j, d int, kappa, tau float64) {
	bj := j * (d + 1)
	addBlock(q, bj, bj, d, d, kappa, identity(d))
	q.Set(bj+d, bj+d, q.At(bj+d, bj+d)+tau)
}

// addCrossBlock adds the cross term linking own pose ownIdx to
// neighbor pose at column block neighborCol of g, for an edge between
// them. ownIsTail selects which half of the edge's cross-term formula
// applies (the rotation-translation coupling only exists on the
// tail's side).
func addCrossBlock(g *mat.Dense, ownIdx, neighborIdx, d int, kappa, tau float64, rHat *mat.Dense, that *mat.VecDense, ownIsTail bool) {
	bo := ownIdx * (d + 1)
	bn := neighborIdx * (d + 1)

	if ownIsTail {
		// own = i (tail), neighbor = j (head): same formula as the
		// (i,j) block of addBlockEdge.
		addBlock(g, bo, bn, d, d, -kappa, rHat)
		setVecColumn(g, bo, bn+d, d, -tau, that)
		g.Set(bo+d, bn+d, g.At(bo+d, bn+d)-tau)
	} else {
		// own = j (head), neighbor = i (tail): the (j,i) block, the
		// transpose of the (i,j) formula.
		addBlock(g, bo, bn, d, d, -kappa, rHat.T())
		setVecRow(g, bo+d, bn, d, -tau, that)
		g.Set(bo+d, bn+d, g.At(bo+d, bn+d)-tau)
	}
}

func setVecColumn(dst *mat.Dense, rowOff, col, d int, scale float64, v *mat.VecDense) {
	for r := 0; r < d; r++ {
		dst.Set(rowOff+r, col, dst.At(rowOff+r, col)+scale*v.AtVec(r))
	}
}

func setVecRow(dst *mat.Dense, row, colOff, d int, scale float64, v *mat.VecDense) {
	for c := 0; c < d; c++ {
		dst.Set(row, colOff+c, dst.At(row, colOff+c)+scale*v.AtVec(c))
	}
}
