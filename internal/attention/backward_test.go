package attention

import (
	"math"
	"testing"

	"github.com/flint-ml/flint/internal/device"
)

// runForward is a test helper that allocates outputs and runs the
// tiled forward pass under the given limits.
func runForward(q, k, v []float32, n, d int, scale float32, lim device.Limits, t *testing.T) (o, m, l []float32) {
	t.Helper()
	plan, err := PlanForward(n, d, lim)
	if err != nil {
		t.Fatalf("PlanForward failed: %v", err)
	}
	o = make([]float32, n*d)
	m = make([]float32, n)
	l = make([]float32, n)
	ForwardGroup(q, k, v, o, m, l, n, d, scale, plan)
	return o, m, l
}

// TestBackwardMatchesDense checks all three gradients against the
// dense oracle, using stats produced by the tiled forward pass.
func TestBackwardMatchesDense(t *testing.T) {
	n, d := 48, 16
	scale := defaultScale(d)
	lim := device.Limits{SharedMemoryBytes: 16 * 1024, MaxGroupUnits: 64}

	q := testVector(n*d, 31)
	k := testVector(n*d, 32)
	v := testVector(n*d, 33)
	dO := testVector(n*d, 34)

	o, m, l := runForward(q, k, v, n, d, scale, lim, t)

	plan, err := PlanBackward(n, d, lim)
	if err != nil {
		t.Fatalf("PlanBackward failed: %v", err)
	}
	if plan.NumColBlocks < 2 {
		t.Fatalf("tiling too coarse to exercise accumulation: %+v", plan)
	}

	dq := make([]float32, n*d)
	dk := make([]float32, n*d)
	dv := make([]float32, n*d)
	BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, n, d, scale, plan)

	wantDq, wantDk, wantDv := DenseBackward(q, k, v, dO, n, d, scale)
	if dev := maxDeviation(dq, wantDq); dev > 1e-3 {
		t.Errorf("dq deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dk, wantDk); dev > 1e-3 {
		t.Errorf("dk deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dv, wantDv); dev > 1e-3 {
		t.Errorf("dv deviates from dense by %v", dev)
	}
}

// TestBackwardFiniteDifference compares the analytic gradients against
// central differences of the scalar loss sum(O * G). This anchors the
// whole gradient chain to nothing but the forward computation.
func TestBackwardFiniteDifference(t *testing.T) {
	n, d := 6, 4
	scale := defaultScale(d)
	lim := device.Default()

	q := testVector(n*d, 41)
	k := testVector(n*d, 42)
	v := testVector(n*d, 43)
	g := testVector(n*d, 44)

	o, m, l := runForward(q, k, v, n, d, scale, lim, t)

	plan, err := PlanBackward(n, d, lim)
	if err != nil {
		t.Fatalf("PlanBackward failed: %v", err)
	}

	dq := make([]float32, n*d)
	dk := make([]float32, n*d)
	dv := make([]float32, n*d)
	BackwardGroup(q, k, v, o, g, m, l, dq, dk, dv, n, d, scale, plan)

	loss := func() float64 {
		out, _, _ := DenseForward(q, k, v, n, d, scale)
		var s float64
		for i := range out {
			s += float64(out[i]) * float64(g[i])
		}
		return s
	}

	const h = 1e-2
	checks := []struct {
		name     string
		params   []float32
		analytic []float32
	}{
		{"dq", q, dq},
		{"dk", k, dk},
		{"dv", v, dv},
	}
	for _, chk := range checks {
		numeric := numericGradient(chk.params, loss, h)
		if dev := maxDeviation(chk.analytic, numeric); dev > 5e-3 {
			t.Errorf("%s deviates from finite differences by %v", chk.name, dev)
		}
	}
}

// numericGradient perturbs each parameter in place with central
// differences and restores it afterwards.
func numericGradient(params []float32, loss func() float64, h float32) []float32 {
	grad := make([]float32, len(params))
	for i := range params {
		orig := params[i]
		params[i] = orig + h
		lp := loss()
		params[i] = orig - h
		lm := loss()
		params[i] = orig
		grad[i] = float32((lp - lm) / float64(2*h))
	}
	return grad
}

// TestBackwardTileInvariance drives the backward pass with several
// square tile widths and checks each against the dense oracle.
func TestBackwardTileInvariance(t *testing.T) {
	n, d := 20, 8
	scale := defaultScale(d)

	q := testVector(n*d, 51)
	k := testVector(n*d, 52)
	v := testVector(n*d, 53)
	dO := testVector(n*d, 54)

	o, m, l := runForward(q, k, v, n, d, scale, device.Default(), t)
	wantDq, wantDk, wantDv := DenseBackward(q, k, v, dO, n, d, scale)

	for _, w := range []int{1, 3, 16, 20} {
		plan := makePlan(n, d, w, w)

		dq := make([]float32, n*d)
		dk := make([]float32, n*d)
		dv := make([]float32, n*d)
		BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, n, d, scale, plan)

		if dev := maxDeviation(dq, wantDq); dev > 1e-3 {
			t.Errorf("width %d: dq deviates by %v", w, dev)
		}
		if dev := maxDeviation(dk, wantDk); dev > 1e-3 {
			t.Errorf("width %d: dk deviates by %v", w, dev)
		}
		if dev := maxDeviation(dv, wantDv); dev > 1e-3 {
			t.Errorf("width %d: dv deviates by %v", w, dev)
		}
	}
}

// TestBackwardBoundaryTiles uses a sequence length that leaves partial
// tiles at both loop edges.
func TestBackwardBoundaryTiles(t *testing.T) {
	n, d := 70, 8
	scale := defaultScale(d)
	lim := device.Default()

	q := testVector(n*d, 61)
	k := testVector(n*d, 62)
	v := testVector(n*d, 63)
	dO := testVector(n*d, 64)

	o, m, l := runForward(q, k, v, n, d, scale, lim, t)

	plan, err := PlanBackward(n, d, lim)
	if err != nil {
		t.Fatalf("PlanBackward failed: %v", err)
	}
	if n%plan.BlockCols == 0 {
		t.Fatalf("expected a partial boundary tile, got width %d", plan.BlockCols)
	}

	dq := make([]float32, n*d)
	dk := make([]float32, n*d)
	dv := make([]float32, n*d)
	BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, n, d, scale, plan)

	wantDq, wantDk, wantDv := DenseBackward(q, k, v, dO, n, d, scale)
	if dev := maxDeviation(dq, wantDq); dev > 1e-3 {
		t.Errorf("dq deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dk, wantDk); dev > 1e-3 {
		t.Errorf("dk deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dv, wantDv); dev > 1e-3 {
		t.Errorf("dv deviates from dense by %v", dev)
	}
}

// TestBackwardSingleRow checks the one-row degenerate case, where the
// probability is exactly one: the value gradient is the output
// gradient and the query and key gradients vanish.
func TestBackwardSingleRow(t *testing.T) {
	d := 8
	scale := defaultScale(d)

	q := testVector(d, 71)
	k := testVector(d, 72)
	v := testVector(d, 73)
	dO := testVector(d, 74)

	o, m, l := runForward(q, k, v, 1, d, scale, device.Default(), t)

	plan, err := PlanBackward(1, d, device.Default())
	if err != nil {
		t.Fatalf("PlanBackward failed: %v", err)
	}

	dq := make([]float32, d)
	dk := make([]float32, d)
	dv := make([]float32, d)
	BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, 1, d, scale, plan)

	for i := 0; i < d; i++ {
		if math.Abs(float64(dv[i]-dO[i])) > 1e-6 {
			t.Errorf("dv[%d] = %v, want %v", i, dv[i], dO[i])
		}
		if math.Abs(float64(dq[i])) > 1e-6 {
			t.Errorf("dq[%d] = %v, want 0", i, dq[i])
		}
		if math.Abs(float64(dk[i])) > 1e-6 {
			t.Errorf("dk[%d] = %v, want 0", i, dk[i])
		}
	}
}

// TestBackwardHeadDimOne checks the minimal head dimension.
func TestBackwardHeadDimOne(t *testing.T) {
	n, d := 32, 1
	scale := defaultScale(d)
	lim := device.Default()

	q := testVector(n, 81)
	k := testVector(n, 82)
	v := testVector(n, 83)
	dO := testVector(n, 84)

	o, m, l := runForward(q, k, v, n, d, scale, lim, t)

	plan, err := PlanBackward(n, d, lim)
	if err != nil {
		t.Fatalf("PlanBackward failed: %v", err)
	}

	dq := make([]float32, n)
	dk := make([]float32, n)
	dv := make([]float32, n)
	BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, n, d, scale, plan)

	wantDq, wantDk, wantDv := DenseBackward(q, k, v, dO, n, d, scale)
	if dev := maxDeviation(dq, wantDq); dev > 1e-3 {
		t.Errorf("dq deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dk, wantDk); dev > 1e-3 {
		t.Errorf("dk deviates from dense by %v", dev)
	}
	if dev := maxDeviation(dv, wantDv); dev > 1e-3 {
		t.Errorf("dv deviates from dense by %v", dev)
	}
}

// BenchmarkBackwardTiledVsDense compares the tiled backward pass
// against the dense analytic reference on one head.
func BenchmarkBackwardTiledVsDense(b *testing.B) {
	n, d := 256, 64
	scale := defaultScale(d)
	q := testVector(n*d, 111)
	k := testVector(n*d, 112)
	v := testVector(n*d, 113)
	dO := testVector(n*d, 114)

	fplan, err := PlanForward(n, d, device.Default())
	if err != nil {
		b.Fatalf("PlanForward failed: %v", err)
	}
	o := make([]float32, n*d)
	m := make([]float32, n)
	l := make([]float32, n)
	ForwardGroup(q, k, v, o, m, l, n, d, scale, fplan)

	plan, err := PlanBackward(n, d, device.Default())
	if err != nil {
		b.Fatalf("PlanBackward failed: %v", err)
	}
	dq := make([]float32, n*d)
	dk := make([]float32, n*d)
	dv := make([]float32, n*d)

	b.Run("tiled", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			for j := range dq {
				dq[j], dk[j], dv[j] = 0, 0, 0
			}
			BackwardGroup(q, k, v, o, dO, m, l, dq, dk, dv, n, d, scale, plan)
		}
	})

	b.Run("dense", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			DenseBackward(q, k, v, dO, n, d, scale)
		}
	})
}
