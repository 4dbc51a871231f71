package parallel

import (
	"sync/atomic"
	"testing"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestForCoversEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3}

	n := 17
	seen := make([]int32, n)
	For(n, func(i int) {
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	for i, count := range seen {
		if count != 1 {
			t.Errorf("index %d visited %d times, want 1", i, count)
		}
	}
}

func TestForBatchHeads(t *testing.T) {
	cfg := DefaultConfig()

	batch, heads := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, heads)
	}

	ForBatchHeads(batch, heads, func(b, h int) {
		results[b][h] = true
	}, cfg)

	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			if !results[b][h] {
				t.Errorf("Missing result at [%d][%d]", b, h)
			}
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func BenchmarkForBatchHeads(b *testing.B) {
	cfg := DefaultConfig()
	batch, heads := 16, 64

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			ForBatchHeads(batch, heads, func(bb, h int) {
				atomic.AddInt64(&sum, int64(bb*heads+h))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			ForBatchHeads(batch, heads, func(bb, h int) {
				atomic.AddInt64(&sum, int64(bb*heads+h))
			}, cfgSeq)
		}
	})
}
