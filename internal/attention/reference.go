package attention

import "math"

// DenseForward computes attention for one head by materializing full
// score rows. It is the correctness oracle for the tiled kernels and
// is written as the textbook three-step computation on purpose.
// Returns the output plus the per-row max and normalizer in the same
// form ForwardGroup produces them.
func DenseForward(q, k, v []float32, n, d int, scale float32) (o, m, l []float32) {
	o = make([]float32, n*d)
	m = make([]float32, n)
	l = make([]float32, n)

	scores := make([]float32, n)
	for r := 0; r < n; r++ {
		qRow := q[r*d : (r+1)*d]

		rowMax := float32(math.Inf(-1))
		for c := 0; c < n; c++ {
			kRow := k[c*d : (c+1)*d]
			var dot float32
			for dd := 0; dd < d; dd++ {
				dot += qRow[dd] * kRow[dd]
			}
			s := dot * scale
			scores[c] = s
			if s > rowMax {
				rowMax = s
			}
		}

		var sum float32
		for c := 0; c < n; c++ {
			p := float32(math.Exp(float64(scores[c] - rowMax)))
			scores[c] = p
			sum += p
		}

		oRow := o[r*d : (r+1)*d]
		for c := 0; c < n; c++ {
			p := scores[c] / sum
			vRow := v[c*d : (c+1)*d]
			for dd := 0; dd < d; dd++ {
				oRow[dd] += p * vRow[dd]
			}
		}

		m[r] = rowMax
		l[r] = sum
	}
	return o, m, l
}

// DenseBackward computes the attention input gradients for one head by
// materializing full probability rows. Probabilities are recomputed
// from scratch, so the result does not depend on the stats or output
// of any forward pass.
func DenseBackward(q, k, v, dO []float32, n, d int, scale float32) (dq, dk, dv []float32) {
	dq = make([]float32, n*d)
	dk = make([]float32, n*d)
	dv = make([]float32, n*d)

	probs := make([]float32, n)
	dp := make([]float32, n)

	for r := 0; r < n; r++ {
		qRow := q[r*d : (r+1)*d]
		doRow := dO[r*d : (r+1)*d]
		dqRow := dq[r*d : (r+1)*d]

		rowMax := float32(math.Inf(-1))
		for c := 0; c < n; c++ {
			kRow := k[c*d : (c+1)*d]
			var dot float32
			for dd := 0; dd < d; dd++ {
				dot += qRow[dd] * kRow[dd]
			}
			s := dot * scale
			probs[c] = s
			if s > rowMax {
				rowMax = s
			}
		}
		var sum float32
		for c := 0; c < n; c++ {
			probs[c] = float32(math.Exp(float64(probs[c] - rowMax)))
			sum += probs[c]
		}
		for c := 0; c < n; c++ {
			probs[c] /= sum
		}

		// dP[c] = dO . V[c]. The shared Jacobian term is the
		// probability-weighted mean of dP, which equals dO . O
		// without needing O.
		var rowDot float32
		for c := 0; c < n; c++ {
			vRow := v[c*d : (c+1)*d]
			var acc float32
			for dd := 0; dd < d; dd++ {
				acc += doRow[dd] * vRow[dd]
			}
			dp[c] = acc
			rowDot += probs[c] * acc
		}

		for c := 0; c < n; c++ {
			p := probs[c]
			ds := scale * p * (dp[c] - rowDot)
			kRow := k[c*d : (c+1)*d]
			dkRow := dk[c*d : (c+1)*d]
			dvRow := dv[c*d : (c+1)*d]
			for dd := 0; dd < d; dd++ {
				dqRow[dd] += ds * kRow[dd]
				dkRow[dd] += ds * qRow[dd]
				dvRow[dd] += p * doRow[dd]
			}
		}
	}
	return dq, dk, dv
}
