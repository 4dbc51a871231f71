//go:build windows

package webgpu

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// getPipeline returns the cached compute pipeline for name, compiling
// the WGSL source on first use. Attention pipelines are keyed by tile
// shape and head dim, so a workload with stable dimensions compiles
// each shader exactly once.
func (b *Backend) getPipeline(name, source string) *wgpu.ComputePipeline {
	b.mu.RLock()
	pipeline, ok := b.pipelines[name]
	b.mu.RUnlock()
	if ok {
		return pipeline
	}

	shader := b.device.CreateShaderModuleWGSL(source)
	pipeline = b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()

	return pipeline
}

// uploadBuffer creates a storage buffer and fills it with data through
// a mapped-at-creation range.
func (b *Backend) uploadBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	buffer.Unmap()

	return buffer
}

// uploadUniform creates a uniform buffer padded to the 16-byte
// alignment uniform bindings require.
func (b *Backend) uploadUniform(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mapped, data)
	buffer.Unmap()

	return buffer
}

// readBuffer copies a storage buffer back to host memory through a
// staging buffer, since storage buffers cannot be mapped directly. A
// failed mapping means the device is gone, which surfaces as
// ErrDeviceFault.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %v: %w", err, ErrDeviceFault)
	}

	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mapped)
	staging.Unmap()

	return result, nil
}
