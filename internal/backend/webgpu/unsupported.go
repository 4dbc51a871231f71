//go:build !windows

package webgpu

import (
	"errors"

	"github.com/flint-ml/flint/internal/device"
	"github.com/flint-ml/flint/internal/tensor"
)

// Backend is the WebGPU attention backend. The go-webgpu bindings only
// ship native libraries for windows, so on this platform New always
// fails and no Backend value is ever constructed.
type Backend struct{}

// New reports the WebGPU backend as unavailable.
func New() (*Backend, error) {
	return nil, errors.New("webgpu: not supported on this platform")
}

func (b *Backend) Name() string { return "WebGPU" }

func (b *Backend) Device() tensor.Device { return tensor.WebGPU }

func (b *Backend) Limits() device.Limits { return device.WebGPUMinimum() }

func (b *Backend) Forward(q, k, v *tensor.RawTensor, scale float32) (o, m, l *tensor.RawTensor, err error) {
	panic("webgpu: backend not available on this platform")
}

func (b *Backend) Backward(q, k, v, o, dO, m, l *tensor.RawTensor, scale float32) (dq, dk, dv *tensor.RawTensor, err error) {
	panic("webgpu: backend not available on this platform")
}

func (b *Backend) Close() {}
