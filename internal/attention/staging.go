package attention

// forwardStaging holds the shared tiles one forward group cooperates
// through. Buffers are named per operand rather than carved out of a
// flat arena so every access site states what it is touching.
type forwardStaging struct {
	kTile  []float32 // [BlockCols * d] staged key rows.
	vTile  []float32 // [BlockCols * d] staged value rows.
	qTile  []float32 // [BlockRows * d] staged query rows.
	scores []float32 // [BlockRows * BlockCols] per-tile scores.
}

func newForwardStaging(p TilePlan, d int) *forwardStaging {
	return &forwardStaging{
		kTile:  make([]float32, p.BlockCols*d),
		vTile:  make([]float32, p.BlockCols*d),
		qTile:  make([]float32, p.BlockRows*d),
		scores: make([]float32, p.BlockRows*p.BlockCols),
	}
}

// backwardStaging holds the shared tiles one backward group cooperates
// through. dkTile and dvTile accumulate key and value gradients across
// the whole row sweep of a column tile before being written out once.
// The scores tile carries recomputed probabilities and dScores carries
// the score gradients between the row phase and the column phase.
type backwardStaging struct {
	kTile   []float32 // [W * d] staged key rows.
	vTile   []float32 // [W * d] staged value rows.
	qTile   []float32 // [W * d] staged query rows.
	oTile   []float32 // [W * d] staged forward output rows.
	doTile  []float32 // [W * d] staged output-gradient rows.
	dkTile  []float32 // [W * d] key-gradient accumulator.
	dvTile  []float32 // [W * d] value-gradient accumulator.
	scores  []float32 // [W * W] recomputed probabilities.
	dScores []float32 // [W * W] score gradients.
}

func newBackwardStaging(p TilePlan, d int) *backwardStaging {
	w := p.BlockRows
	return &backwardStaging{
		kTile:   make([]float32, w*d),
		vTile:   make([]float32, w*d),
		qTile:   make([]float32, w*d),
		oTile:   make([]float32, w*d),
		doTile:  make([]float32, w*d),
		dkTile:  make([]float32, w*d),
		dvTile:  make([]float32, w*d),
		scores:  make([]float32, w*w),
		dScores: make([]float32, w*w),
	}
}

// stageRows copies rows [start, start+count) of src, a dense [n*d]
// buffer, into tile, striding by the caller's unit index so the group
// shares the copy work. Rows the stride never reaches are left as-is;
// they belong to other units.
func stageRows(tile, src []float32, start, count, d, unit, width int) {
	for r := unit; r < count; r += width {
		srcOff := (start + r) * d
		copy(tile[r*d:(r+1)*d], src[srcOff:srcOff+d])
	}
}

// zeroRows clears rows [0, count) of tile, striding by unit the same
// way stageRows does.
func zeroRows(tile []float32, count, d, unit, width int) {
	for r := unit; r < count; r += width {
		row := tile[r*d : (r+1)*d]
		for i := range row {
			row[i] = 0
		}
	}
}
