//go:build windows

package webgpu

import (
	"testing"

	"github.com/go-webgpu/webgpu/wgpu"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		size uint64
		want int
	}{
		{0, 0},
		{1024, 0},
		{smallClassBytes - 1, 0},
		{smallClassBytes, 1},
		{mediumClassBytes - 1, 1},
		{mediumClassBytes, 2},
		{64 * 1024 * 1024, 2},
	}
	for _, tc := range cases {
		if got := classOf(tc.size); got != tc.want {
			t.Errorf("classOf(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestBufferPoolReuse(t *testing.T) {
	backend := newTestBackend(t)
	pool := backend.bufferPool

	usage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc)
	size := uint64(2048)

	first := pool.Acquire(size, usage)
	if first == nil {
		t.Fatal("Acquire returned nil buffer")
	}
	pool.Release(first, size, usage)

	second := pool.Acquire(size, usage)
	if second != first {
		t.Error("expected the released buffer back from the pool")
	}
	pool.Release(second, size, usage)

	hits, misses := pool.Stats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestBufferPoolSizeAndUsageMatching(t *testing.T) {
	backend := newTestBackend(t)
	pool := backend.bufferPool

	storage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc)
	size := uint64(1024)

	buf := pool.Acquire(size, storage)
	pool.Release(buf, size, storage)

	// A larger request in the same class must not get the small
	// buffer back.
	bigger := pool.Acquire(2*size, storage)
	if bigger == buf {
		t.Error("pool returned a buffer smaller than requested")
	}
	pool.Release(bigger, 2*size, storage)

	// A request needing more usage flags than the pooled buffer
	// carries must also miss.
	withDst := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst)
	other := pool.Acquire(size, withDst)
	if other == buf {
		t.Error("pool returned a buffer without the requested usage flags")
	}
	pool.Release(other, size, withDst)
}

func TestBufferPoolDrain(t *testing.T) {
	backend := newTestBackend(t)
	pool := backend.bufferPool

	usage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc)
	buf := pool.Acquire(4096, usage)
	pool.Release(buf, 4096, usage)
	pool.Drain()

	_, missesBefore := pool.Stats()
	fresh := pool.Acquire(4096, usage)
	_, missesAfter := pool.Stats()
	if missesAfter != missesBefore+1 {
		t.Error("Acquire after Drain should allocate fresh")
	}
	pool.Release(fresh, 4096, usage)
}
