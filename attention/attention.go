// Copyright 2025 Flint ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package attention

import (
	"math"
	"sync"

	"github.com/flint-ml/flint/internal/attention"
	internalcpu "github.com/flint-ml/flint/internal/backend/cpu"
	"github.com/flint-ml/flint/tensor"
)

// ErrResourceExceeded reports that no tiling of the requested head
// dimension fits the device's staging budget. It is returned before
// any kernel work starts.
var ErrResourceExceeded = attention.ErrResourceExceeded

// Backend computes tiled attention on a specific device.
//
// Dense operands are [batch, heads, seq, headDim] float32 tensors; the
// softmax statistics m and l are [batch, heads, seq]. Shape and dtype
// violations panic, resource problems return errors.
type Backend interface {
	// Name identifies the backend for logs and diagnostics.
	Name() string
	// Device reports where results are tagged as residing.
	Device() tensor.Device
	// Forward computes attention and the per-row softmax statistics.
	Forward(q, k, v *tensor.RawTensor, scale float32) (o, m, l *tensor.RawTensor, err error)
	// Backward computes input gradients from the saved statistics.
	Backward(q, k, v, o, dO, m, l *tensor.RawTensor, scale float32) (dq, dk, dv *tensor.RawTensor, err error)
}

// Scale returns the conventional softmax scale 1/sqrt(headDim).
func Scale(headDim int) float32 {
	return float32(1.0 / math.Sqrt(float64(headDim)))
}

var defaultBackend = sync.OnceValue(internalcpu.New)

// Forward runs tiled attention on the shared CPU backend using the
// conventional scale for the operands' head dimension.
func Forward(q, k, v *tensor.RawTensor) (o, m, l *tensor.RawTensor, err error) {
	return defaultBackend().Forward(q, k, v, headScale(q))
}

// Backward computes the attention input gradients on the shared CPU
// backend. o, m and l must come from the matching Forward call.
func Backward(q, k, v, o, dO, m, l *tensor.RawTensor) (dq, dk, dv *tensor.RawTensor, err error) {
	return defaultBackend().Backward(q, k, v, o, dO, m, l, headScale(q))
}

// headScale derives the conventional scale from a 4D operand, leaving
// shape validation to the backend.
func headScale(r *tensor.RawTensor) float32 {
	shape := r.Shape()
	if len(shape) != 4 {
		return 1
	}
	return Scale(shape[3])
}
