// Package attention implements tiled scaled dot-product attention with
// online softmax. Kernels operate on flat float32 buffers holding one
// attention head and run as groups of cooperating units that share
// fixed-size staging tiles, keeping memory O(n) in sequence length
// instead of O(n^2).
package attention

import (
	"errors"
	"fmt"

	"github.com/flint-ml/flint/internal/device"
)

// ErrResourceExceeded reports that no tile configuration fits the
// shared staging budget. Planning happens before any group launches,
// so the caller always sees this error up front.
var ErrResourceExceeded = errors.New("staging budget exceeded")

const (
	// elemSize is the byte width of one staged element. Staging tiles
	// hold float32 regardless of the accumulator width used inside
	// the kernels.
	elemSize = 4

	// backwardTileWidth is the square tile edge used by the backward
	// pass. Backward keeps seven operand tiles plus two score tiles
	// resident at once, so the width is a fixed conservative constant
	// rather than being derived from the budget.
	backwardTileWidth = 16
)

// TilePlan describes how one attention head is cut into tiles that fit
// the shared staging budget.
//
// Forward tiles are asymmetric: BlockCols comes from the budget while
// BlockRows is additionally clamped by the head dimension and the unit
// limit. Backward uses square tiles with BlockRows == BlockCols. The
// group width always equals BlockRows.
type TilePlan struct {
	BlockRows    int // Query rows per tile (one unit per row).
	BlockCols    int // Key/value columns per tile.
	NumRowBlocks int // ceil(n / BlockRows).
	NumColBlocks int // ceil(n / BlockCols).
	StagingBytes int // Staging footprint per group in bytes.
}

// PlanForward sizes forward tiles for a sequence of n rows with head
// dimension d under the given device limits.
//
// The column width is chosen so the key tile, value tile, query tile
// and score tile together stay inside the staging budget. If even a
// single key/value column cannot be staged the plan fails with
// ErrResourceExceeded.
func PlanForward(n, d int, lim device.Limits) (TilePlan, error) {
	if n <= 0 || d <= 0 {
		panic(fmt.Sprintf("attention: invalid plan dimensions n=%d d=%d", n, d))
	}

	budget := lim.SharedMemoryBytes

	// Kj and Vj take Bc*d elements each, Qi takes Br*d and the score
	// tile Br*Bc. With Br <= Bc and Br <= d the last two terms are
	// each at most Bc*d, so budget/(4*d*elemSize) columns always fit.
	bc := budget / (4 * d * elemSize)
	if bc < 1 {
		return TilePlan{}, fmt.Errorf(
			"forward plan n=%d d=%d: one key/value column needs %d bytes, budget is %d: %w",
			n, d, 4*d*elemSize, budget, ErrResourceExceeded)
	}
	if bc > n {
		bc = n
	}

	br := bc
	if br > d {
		br = d
	}
	if br > lim.MaxGroupUnits {
		br = lim.MaxGroupUnits
	}
	if br > n {
		br = n
	}

	footprint := elemSize * (2*bc*d + br*d + br*bc)
	if footprint > budget {
		return TilePlan{}, fmt.Errorf(
			"forward plan n=%d d=%d: tiles %dx%d need %d bytes, budget is %d: %w",
			n, d, br, bc, footprint, budget, ErrResourceExceeded)
	}

	return TilePlan{
		BlockRows:    br,
		BlockCols:    bc,
		NumRowBlocks: ceilDiv(n, br),
		NumColBlocks: ceilDiv(n, bc),
		StagingBytes: footprint,
	}, nil
}

// PlanBackward sizes backward tiles for a sequence of n rows with head
// dimension d under the given device limits.
//
// Backward stages key, value, query, output and output-gradient tiles
// plus two on-chip gradient accumulators and two score tiles. The
// width is backwardTileWidth clamped by the unit limit and n, and is
// never shrunk further to force a fit; when the footprint exceeds the
// budget the plan fails with ErrResourceExceeded.
func PlanBackward(n, d int, lim device.Limits) (TilePlan, error) {
	if n <= 0 || d <= 0 {
		panic(fmt.Sprintf("attention: invalid plan dimensions n=%d d=%d", n, d))
	}

	w := backwardTileWidth
	if w > lim.MaxGroupUnits {
		w = lim.MaxGroupUnits
	}
	if w > n {
		w = n
	}

	// Kj, Vj, dKj, dVj, Qi, Oi and dOi at w*d elements each plus the
	// score and score-gradient tiles at w*w each.
	footprint := elemSize * (7*w*d + 2*w*w)
	if footprint > lim.SharedMemoryBytes {
		return TilePlan{}, fmt.Errorf(
			"backward plan n=%d d=%d: tiles %dx%d need %d bytes, budget is %d: %w",
			n, d, w, w, footprint, lim.SharedMemoryBytes, ErrResourceExceeded)
	}

	return TilePlan{
		BlockRows:    w,
		BlockCols:    w,
		NumRowBlocks: ceilDiv(n, w),
		NumColBlocks: ceilDiv(n, w),
		StagingBytes: footprint,
	}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
