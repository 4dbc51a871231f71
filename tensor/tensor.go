// Copyright 2025 Flint ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor container for Flint.
//
// The attention kernels operate on RawTensor values: flat row-major
// buffers carrying shape, strides, element type and device tag. Dense
// operands are [batch, heads, seq, headDim] and the softmax statistics
// are [batch, heads, seq].
//
// Example:
//
//	q, err := tensor.FromFloat32(data, tensor.Shape{1, 8, 512, 64})
package tensor

import (
	"github.com/flint-ml/flint/internal/tensor"
)

// DataType represents the underlying element type of a tensor.
type DataType = tensor.DataType

// Element type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Device represents the compute device tensor data is associated with.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{1, 8, 512, 64} is one batch of 8 heads, 512 rows of
// 64-dimensional vectors.
type Shape = tensor.Shape

// RawTensor is the flat buffer representation every backend consumes
// and produces.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-initialized tensor with the given shape,
// element type and device tag.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromFloat32 creates a CPU float32 tensor backed by a copy of data.
// The data length must match the shape's element count.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}
