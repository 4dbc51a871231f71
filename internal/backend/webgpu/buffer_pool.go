//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

const (
	// Pool class thresholds.
	smallClassBytes  = 4 * 1024
	mediumClassBytes = 1024 * 1024

	// Retained buffers per class before Release frees eagerly.
	classCapacity = 64
)

// pooledBuffer carries the size and usage a buffer was created with,
// since neither can be queried back from the handle.
type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

// BufferPool recycles GPU storage buffers across dispatches. Attention
// workloads re-run the same shapes continually, so the output and
// scratch buffers of one launch almost always fit the next.
type BufferPool struct {
	device *wgpu.Device

	mu      sync.Mutex
	classes [3][]pooledBuffer

	hits   uint64
	misses uint64
}

// NewBufferPool creates an empty pool backed by the given device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{device: device}
}

// Acquire returns a buffer of at least size bytes carrying every
// requested usage flag, reusing a pooled buffer when one fits.
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
	p.mu.Lock()
	class := p.classes[classOf(size)]
	for i, pb := range class {
		if pb.size >= size && pb.usage&usage == usage {
			p.classes[classOf(size)] = append(class[:i], class[i+1:]...)
			p.hits++
			p.mu.Unlock()
			return pb.buffer
		}
	}
	p.misses++
	p.mu.Unlock()

	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	})
}

// Release hands a buffer back for reuse. Buffers beyond the class
// capacity are freed immediately instead of being retained.
func (p *BufferPool) Release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	idx := classOf(size)
	if len(p.classes[idx]) < classCapacity {
		p.classes[idx] = append(p.classes[idx], pooledBuffer{buffer: buffer, size: size, usage: usage})
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	buffer.Release()
}

// Drain frees every retained buffer.
func (p *BufferPool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.classes {
		for _, pb := range p.classes[i] {
			pb.buffer.Release()
		}
		p.classes[i] = nil
	}
}

// Stats reports pool effectiveness since creation.
func (p *BufferPool) Stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}

func classOf(size uint64) int {
	switch {
	case size < smallClassBytes:
		return 0
	case size < mediumClassBytes:
		return 1
	default:
		return 2
	}
}
