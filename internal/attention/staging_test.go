package attention

import "testing"

// TestStageRowsCoversTile runs the strided copy once per unit, the way
// a group shares it, and checks every staged row landed.
func TestStageRowsCoversTile(t *testing.T) {
	n, d := 10, 3
	width := 4
	src := testVector(n*d, 91)

	start, count := 2, 7
	tile := make([]float32, count*d)
	for unit := 0; unit < width; unit++ {
		stageRows(tile, src, start, count, d, unit, width)
	}

	for r := 0; r < count; r++ {
		for dd := 0; dd < d; dd++ {
			want := src[(start+r)*d+dd]
			if got := tile[r*d+dd]; got != want {
				t.Errorf("tile[%d][%d] = %v, want %v", r, dd, got, want)
			}
		}
	}
}

// TestStageRowsPartialTile checks that rows past the copy count keep
// their previous contents.
func TestStageRowsPartialTile(t *testing.T) {
	d := 2
	src := testVector(8*d, 92)

	tile := make([]float32, 4*d)
	for i := range tile {
		tile[i] = -7
	}
	for unit := 0; unit < 2; unit++ {
		stageRows(tile, src, 0, 3, d, unit, 2)
	}

	for i := 3 * d; i < 4*d; i++ {
		if tile[i] != -7 {
			t.Errorf("tile[%d] = %v, expected untouched slot", i, tile[i])
		}
	}
}

// TestZeroRows checks the strided clear across all units.
func TestZeroRows(t *testing.T) {
	d := 3
	width := 3
	tile := make([]float32, 5*d)
	for i := range tile {
		tile[i] = 1.5
	}

	for unit := 0; unit < width; unit++ {
		zeroRows(tile, 5, d, unit, width)
	}

	for i, x := range tile {
		if x != 0 {
			t.Errorf("tile[%d] = %v, want 0", i, x)
		}
	}
}

// TestStagingSizes checks the named buffers match the plan.
func TestStagingSizes(t *testing.T) {
	d := 8
	plan := makePlan(64, d, 4, 16)

	fs := newForwardStaging(plan, d)
	if len(fs.kTile) != 16*d || len(fs.vTile) != 16*d {
		t.Errorf("key/value tiles sized %d/%d, want %d", len(fs.kTile), len(fs.vTile), 16*d)
	}
	if len(fs.qTile) != 4*d {
		t.Errorf("query tile sized %d, want %d", len(fs.qTile), 4*d)
	}
	if len(fs.scores) != 4*16 {
		t.Errorf("score tile sized %d, want %d", len(fs.scores), 4*16)
	}

	bplan := makePlan(64, d, 16, 16)
	bs := newBackwardStaging(bplan, d)
	for name, buf := range map[string][]float32{
		"k": bs.kTile, "v": bs.vTile, "q": bs.qTile,
		"o": bs.oTile, "do": bs.doTile, "dk": bs.dkTile, "dv": bs.dvTile,
	} {
		if len(buf) != 16*d {
			t.Errorf("%s tile sized %d, want %d", name, len(buf), 16*d)
		}
	}
	if len(bs.scores) != 256 || len(bs.dScores) != 256 {
		t.Errorf("score tiles sized %d/%d, want 256", len(bs.scores), len(bs.dScores))
	}
}
