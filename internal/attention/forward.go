package attention

import "math"

// ForwardGroup computes attention for one head held in flat row-major
// buffers.
//
// q, k and v are [n*d] inputs. o receives the [n*d] attention output
// while m and l receive the per-row running maximum and normalizer,
// both [n]. The stats are what the backward pass needs to recompute
// probabilities without materializing the n*n score matrix.
//
// The group runs plan.BlockRows units in lock step over column tiles
// in the outer loop and row tiles in the inner loop. Each tile is
// staged cooperatively, every unit then computes one query row, and a
// rendezvous separates every staging phase from the reads that follow
// so no tile is overwritten while another unit still reads it.
func ForwardGroup(q, k, v, o, m, l []float32, n, d int, scale float32, plan TilePlan) {
	st := newForwardStaging(plan, d)
	width := plan.BlockRows

	runGroup(width, func(unit int, rendezvous func()) {
		// Seed the running stats so the first merge of every row is a
		// plain store. The output rows start at zero because they are
		// scaled by the stale normalizer during the merge.
		for r := unit; r < n; r += width {
			m[r] = float32(math.Inf(-1))
			l[r] = 0
			row := o[r*d : (r+1)*d]
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
			rendezvous()

			for i := 0; i < plan.NumRowBlocks; i++ {
				rowStart := i * plan.BlockRows
				rows := min(plan.BlockRows, n-rowStart)

				stageRows(st.qTile, q, rowStart, rows, d, unit, width)
				rendezvous()

				if unit < rows {
					forwardRow(st, o, m, l, unit, rowStart, cols, plan.BlockCols, d, scale)
				}
				// Holds the query and key/value tiles stable until
				// every unit is done reading them.
				rendezvous()
			}
		}
	})
}

// forwardRow folds one staged column tile into the running output of
// the query row owned by unit. The output row is renormalized on every
// merge, so it is final the moment the last tile lands and no epilogue
// pass is needed.
func forwardRow(st *forwardStaging, o, m, l []float32, unit, rowStart, cols, colStride, d int, scale float32) {
	g := rowStart + unit
	qRow := st.qTile[unit*d : (unit+1)*d]
	scores := st.scores[unit*colStride : unit*colStride+cols]

	tileMax := float32(math.Inf(-1))
	for c := 0; c < cols; c++ {
		kRow := st.kTile[c*d : (c+1)*d]
		var dot float32
		for dd := 0; dd < d; dd++ {
			dot += qRow[dd] * kRow[dd]
		}
		s := dot * scale
		scores[c] = s
		if s > tileMax {
			tileMax = s
		}
	}

	// Exponentiate against the tile max, reusing the score slots.
	var tileSum float32
	for c := 0; c < cols; c++ {
		p := float32(math.Exp(float64(scores[c] - tileMax)))
		scores[c] = p
		tileSum += p
	}

	mOld := m[g]
	lOld := l[g]
	newMax := mOld
	if tileMax > newMax {
		newMax = tileMax
	}
	corrOld := float32(math.Exp(float64(mOld - newMax)))
	corrNew := float32(math.Exp(float64(tileMax - newMax)))
	newSum := corrOld*lOld + corrNew*tileSum

	// newSum >= 1 whenever the inputs are finite: the tile max itself
	// contributes exp(0) and prior mass only ever shrinks by exp of a
	// non-positive difference.
	keep := corrOld * lOld / newSum
	blend := corrNew / newSum

	oRow := o[g*d : (g+1)*d]
	for dd := 0; dd < d; dd++ {
		oRow[dd] *= keep
	}
	for c := 0; c < cols; c++ {
		pv := blend * scores[c]
		vRow := st.vTile[c*d : (c+1)*d]
		for dd := 0; dd < d; dd++ {
			oRow[dd] += pv * vRow[dd]
		}
	}

	m[g] = newMax
	l[g] = newSum
}
