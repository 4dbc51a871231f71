// Copyright 2025 Flint ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package attention provides tiled scaled dot-product attention with
// exact online softmax.
//
// # Overview
//
// Flint computes attention without ever materializing the full score
// matrix. Inputs are streamed through fixed-size tiles sized against
// the device's staging budget, and the softmax normalization is folded
// into a running maximum and running sum per query row:
//   - Forward returns the attention output plus the per-row softmax
//     statistics.
//   - Backward consumes those saved statistics to recompute
//     probabilities tile by tile and returns the three input
//     gradients.
//
// Results match a dense reference implementation to float32 rounding;
// the running maximum is exact.
//
// # Basic Usage
//
//	q, _ := tensor.FromFloat32(qData, tensor.Shape{1, 8, 512, 64})
//	k, _ := tensor.FromFloat32(kData, tensor.Shape{1, 8, 512, 64})
//	v, _ := tensor.FromFloat32(vData, tensor.Shape{1, 8, 512, 64})
//
//	o, m, l, err := attention.Forward(q, k, v)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dq, dk, dv, err := attention.Backward(q, k, v, o, dO, m, l)
//
// # Backends
//
// The package-level functions run on a shared CPU backend. For GPU
// execution or explicit control over the backend lifecycle, construct
// one directly:
//   - backend/cpu: goroutine execution groups with a lock-step barrier
//   - backend/webgpu: WGSL compute shaders via go-webgpu
//
// Both satisfy the Backend interface defined here.
//
// # Resource Limits
//
// Tile shapes are derived from the execution environment, not chosen
// by callers. A head dimension too large for the staging budget
// surfaces as ErrResourceExceeded before any kernel work starts.
package attention
