//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flint-ml/flint/internal/tensor"
)

// attnDims are the unpacked dimensions of a [batch, heads, seq,
// headDim] attention operand.
type attnDims struct {
	batch   int
	heads   int
	seq     int
	headDim int
}

func attentionDims(op string, q, k, v *tensor.RawTensor) attnDims {
	shape := q.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D [batch, heads, seq, headDim], got %v", op, shape))
	}
	if !shape.Equal(k.Shape()) || !shape.Equal(v.Shape()) {
		panic(fmt.Sprintf("%s: query, key and value shapes differ: %v, %v, %v",
			op, shape, k.Shape(), v.Shape()))
	}
	for _, r := range []*tensor.RawTensor{q, k, v} {
		if r.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: expected float32 tensors, got %v", op, r.DType()))
		}
	}
	return attnDims{batch: shape[0], heads: shape[1], seq: shape[2], headDim: shape[3]}
}

func checkLike(op, name string, r *tensor.RawTensor, want tensor.Shape) {
	if !r.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: %s shape %v, want %v", op, name, r.Shape(), want))
	}
	if r.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: %s must be float32, got %v", op, name, r.DType()))
	}
}

func mustRaw(op string, shape tensor.Shape) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.WebGPU)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return r
}

func countNonFinite(xs []float32) (nan, inf int) {
	for _, x := range xs {
		v := float64(x)
		switch {
		case math.IsNaN(v):
			nan++
		case math.IsInf(v, 0):
			inf++
		}
	}
	return nan, inf
}

// packParams lays out the 32-byte uniform block both attention shaders
// read: four u32 dimensions, the f32 scale and padding.
func packParams(dm attnDims, scale float32) []byte {
	params := make([]byte, 32)
	//nolint:gosec // G115: dimensions validated positive before packing
	binary.LittleEndian.PutUint32(params[0:4], uint32(dm.batch))
	//nolint:gosec // G115: dimensions validated positive before packing
	binary.LittleEndian.PutUint32(params[4:8], uint32(dm.heads))
	//nolint:gosec // G115: dimensions validated positive before packing
	binary.LittleEndian.PutUint32(params[8:12], uint32(dm.seq))
	//nolint:gosec // G115: dimensions validated positive before packing
	binary.LittleEndian.PutUint32(params[12:16], uint32(dm.headDim))
	binary.LittleEndian.PutUint32(params[16:20], math.Float32bits(scale))
	return params
}
