// Package webgpu implements the WebGPU attention backend.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU
// bindings, which currently ship for windows only; on other platforms
// New reports the backend as unavailable.
package webgpu

import "errors"

// ErrDeviceFault reports a fatal device-side failure such as a lost
// device or a failed readback mapping. Work that hit a device fault is
// never retried; the caller decides whether to fall back to another
// backend.
var ErrDeviceFault = errors.New("device fault")
