// Package parallel fans independent units of work out across worker
// goroutines. The units here are whole execution groups, coarse enough
// that chunks are distributed without a minimum-size cutoff.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is spread across goroutines.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Upper bound on concurrent workers.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
	}
}

// For executes f(i) for i in [0, n), splitting the index range across
// up to NumWorkers goroutines. Falls back to a plain loop when
// parallelism is disabled or there is nothing to share.
func For(n int, f func(i int), cfg Config) {
	workers := cfg.NumWorkers
	if workers > n {
		workers = n
	}
	if !cfg.Enabled || workers <= 1 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatchHeads executes f(b, h) for every (batch, head) pair. Each
// pair is an independent execution group and is handed to exactly one
// worker, so f needs no internal synchronization against other pairs.
func ForBatchHeads(batch, heads int, f func(b, h int), cfg Config) {
	For(batch*heads, func(k int) {
		f(k/heads, k%heads)
	}, cfg)
}
