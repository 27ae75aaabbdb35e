package mcphost

import (
	"slices"
	"sync"
)

// defaultWindowSize is the number of calls kept per tool.
const defaultWindowSize = 100

// rollingWindow keeps the latencies and error flags of the most recent calls
// of one tool in a ring buffer. It is safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []int64
	failed  []bool
	pos     int // next write position
	count   int // total calls recorded, may exceed the capacity
}

// newRollingWindow returns a window holding size calls. A non-positive size
// uses defaultWindowSize.
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{samples: make([]int64, size), failed: make([]bool, size)}
}

// Record adds one call, overwriting the oldest once the window is full.
func (w *rollingWindow) Record(latencyMs int64, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = latencyMs
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

// Snapshot returns the call count, P50, P99 and error rate of the window.
// An empty window reports zeros.
func (w *rollingWindow) Snapshot() (calls int, p50, p99 int64, errRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := min(w.count, len(w.samples))
	if n == 0 {
		return 0, 0, 0, 0
	}
	sorted := slices.Clone(w.samples[:n])
	slices.Sort(sorted)

	errs := 0
	for _, f := range w.failed[:n] {
		if f {
			errs++
		}
	}
	return w.count,
		sorted[n/2],
		sorted[int(float64(n-1)*0.99)],
		float64(errs) / float64(n)
}
