// Package parallel provides the worker fan-out used for batched forward passes
// and data-parallel gradient shards.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4, // Rows are whole sequences, so small chunks already pay off.
	}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
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

// Range is a half-open interval [Start, End).
type Range struct {
	Start, End int
}

// Shards splits [0, n) into at most workers contiguous, non-empty ranges.
// The split depends only on n and workers, so reductions over shards are
// reproducible.
func Shards(n, workers int) []Range {
	if n <= 0 {
		return nil
	}
	workers = max(1, min(workers, n))
	size := (n + workers - 1) / workers
	out := make([]Range, 0, workers)
	for start := 0; start < n; start += size {
		out = append(out, Range{Start: start, End: min(start+size, n)})
	}
	return out
}
