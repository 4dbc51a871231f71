// Copyright 2025 Flint ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the GPU attention backend.
//
// Kernels run as WGSL compute shaders through go-webgpu, whose native
// libraries currently ship for windows only; on other platforms New
// returns an error and callers fall back to the CPU backend.
//
// Example:
//
//	gpu, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gpu.Close()
//
//	o, m, l, err := gpu.Forward(q, k, v, attention.Scale(64))
package webgpu

import (
	"github.com/flint-ml/flint/attention"
	internalwebgpu "github.com/flint-ml/flint/internal/backend/webgpu"
)

// Backend is the WebGPU attention backend.
type Backend = internalwebgpu.Backend

// Compile-time check that Backend implements attention.Backend.
var _ attention.Backend = (*Backend)(nil)

// ErrDeviceFault reports a fatal device-side failure. Work that hit a
// device fault is never retried.
var ErrDeviceFault = internalwebgpu.ErrDeviceFault

// New initializes the WebGPU instance, adapter, device and queue,
// preferring a high performance adapter. Call Close when done to free
// the pooled buffers and device handles.
func New() (*Backend, error) {
	return internalwebgpu.New()
}
