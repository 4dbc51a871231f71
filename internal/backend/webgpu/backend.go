//go:build windows

package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/flint-ml/flint/internal/device"
	"github.com/flint-ml/flint/internal/tensor"
)

// Backend runs the tiled attention kernels as WGSL compute shaders.
// One workgroup owns one batch and head pair, and the staging tiles
// live in workgroup memory, so plans are sized against the 16 KiB
// workgroup storage floor every WebGPU implementation guarantees.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Compiled pipeline cache keyed by tile shape and head dim.
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo
	bufferPool  *BufferPool
	limits      device.Limits
}

// New creates a WebGPU backend, requesting a high performance adapter.
// Returns an error if WebGPU is not available or initialization fails.
func New() (backend *Backend, err error) {
	// The native library loads lazily and panics when missing.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)

	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	adapterInfo := adapter.GetInfo()

	dev, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      dev,
		queue:       queue,
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
		bufferPool:  NewBufferPool(dev),
		limits:      device.WebGPUMinimum(),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "WebGPU"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.WebGPU
}

// Limits returns the staging budget and unit limit plans are sized
// against.
func (b *Backend) Limits() device.Limits {
	return b.limits
}

// Close releases the pooled buffers and the underlying WebGPU handles.
// The backend must not be used after Close.
func (b *Backend) Close() {
	b.bufferPool.Drain()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}
