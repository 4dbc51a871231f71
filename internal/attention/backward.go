package attention

import "math"

// BackwardGroup computes attention input gradients for one head held
// in flat row-major buffers.
//
// q, k, v, o and dO are [n*d]; m and l are the [n] stats saved by the
// forward pass. dq, dk and dv receive the [n*d] gradients. Tile
// probabilities are recomputed from the saved stats rather than by
// running the softmax reduction again, so a row costs one pass over
// its staged columns.
//
// The group runs plan.BlockRows units in lock step with the column
// tile in the outer loop so that the key and value gradient
// accumulators stay staged across the whole row sweep. Within a row
// tile each unit first owns the query row with its index while
// probabilities and score gradients are produced, then owns the
// key/value column with the same index while the accumulators are
// folded. No two units ever write the same slot, so the group needs
// rendezvous points but no atomics.
func BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv []float32, n, d int, scale float32, plan TilePlan) {
	st := newBackwardStaging(plan, d)
	width := plan.BlockRows

	runGroup(width, func(unit int, rendezvous func()) {
		// dq accumulates across column tiles and must start clean.
		// dk and dv rows are written exactly once per column sweep
		// and need no seeding.
		for r := unit; r < n; r += width {
			row := dq[r*d : (r+1)*d]
			for i := range row {
				row[i] = 0
			}
		}
		rendezvous()

		for j := 0; j < plan.NumColBlocks; j++ {
			colStart := j * plan.BlockCols
			cols := min(plan.BlockCols, n-colStart)

			stageRows(st.kTile, k, colStart, cols, d, unit, width)
			stageRows(st.vTile, v, colStart, cols, d, unit, width)
			zeroRows(st.dkTile, cols, d, unit, width)
			zeroRows(st.dvTile, cols, d, unit, width)
			rendezvous()

			for i := 0; i < plan.NumRowBlocks; i++ {
				rowStart := i * plan.BlockRows
				rows := min(plan.BlockRows, n-rowStart)

				stageRows(st.qTile, q, rowStart, rows, d, unit, width)
				stageRows(st.oTile, o, rowStart, rows, d, unit, width)
				stageRows(st.doTile, dO, rowStart, rows, d, unit, width)
				rendezvous()

				if unit < rows {
					backwardRow(st, dq, m, l, unit, rowStart, cols, plan.BlockCols, d, scale)
				}
				// Every probability and score gradient must be
				// visible before any unit folds a column.
				rendezvous()

				if unit < cols {
					backwardCol(st, unit, rows, plan.BlockCols, d, scale)
				}
				// Holds the score tiles and staged rows stable until
				// the column fold is complete everywhere.
				rendezvous()
			}

			for c := unit; c < cols; c += width {
				g := (colStart + c) * d
				copy(dk[g:g+d], st.dkTile[c*d:(c+1)*d])
				copy(dv[g:g+d], st.dvTile[c*d:(c+1)*d])
			}
			// The key/value tiles and accumulators are restaged next,
			// so the write-out must finish first.
			rendezvous()
		}
	})
}

// backwardRow produces the probability and score-gradient rows for the
// query row owned by unit and folds the query gradient. The query
// gradient row belongs to exactly one unit, so the read-modify-write
// on dq needs no synchronization beyond the surrounding rendezvous.
func backwardRow(st *backwardStaging, dq, m, l []float32, unit, rowStart, cols, colStride, d int, scale float32) {
	g := rowStart + unit
	mi := m[g]
	li := l[g]

	qRow := st.qTile[unit*d : (unit+1)*d]
	oRow := st.oTile[unit*d : (unit+1)*d]
	doRow := st.doTile[unit*d : (unit+1)*d]
	probs := st.scores[unit*colStride : unit*colStride+cols]
	grads := st.dScores[unit*colStride : unit*colStride+cols]

	// Probabilities from the saved stats, exactly the values the
	// forward pass normalized with.
	for c := 0; c < cols; c++ {
		kRow := st.kTile[c*d : (c+1)*d]
		var dot float32
		for dd := 0; dd < d; dd++ {
			dot += qRow[dd] * kRow[dd]
		}
		probs[c] = float32(math.Exp(float64(dot*scale-mi))) / li
	}

	// dO . O for this row, shared by every column of the softmax
	// Jacobian below.
	var rowDot float32
	for dd := 0; dd < d; dd++ {
		rowDot += doRow[dd] * oRow[dd]
	}

	for c := 0; c < cols; c++ {
		vRow := st.vTile[c*d : (c+1)*d]
		var dp float32
		for dd := 0; dd < d; dd++ {
			dp += doRow[dd] * vRow[dd]
		}
		grads[c] = probs[c] * (dp - rowDot)
	}

	dqRow := dq[g*d : (g+1)*d]
	for c := 0; c < cols; c++ {
		ds := scale * grads[c]
		kRow := st.kTile[c*d : (c+1)*d]
		for dd := 0; dd < d; dd++ {
			dqRow[dd] += ds * kRow[dd]
		}
	}
}

// backwardCol folds the staged probability and score-gradient columns
// owned by unit into the key and value gradient accumulators.
func backwardCol(st *backwardStaging, unit, rows, colStride, d int, scale float32) {
	col := unit
	dkRow := st.dkTile[col*d : (col+1)*d]
	dvRow := st.dvTile[col*d : (col+1)*d]

	for r := 0; r < rows; r++ {
		p := st.scores[r*colStride+col]
		ds := scale * st.dScores[r*colStride+col]
		doRow := st.doTile[r*d : (r+1)*d]
		qRow := st.qTile[r*d : (r+1)*d]
		for dd := 0; dd < d; dd++ {
			dvRow[dd] += p * doRow[dd]
			dkRow[dd] += ds * qRow[dd]
		}
	}
}
