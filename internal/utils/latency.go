package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of duration samples per operation.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
	total   map[string]int
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per operation.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{
		samples: make(map[string][]time.Duration),
		total:   make(map[string]int),
		maxSize: maxSize,
	}
}

// Observe records d for op and returns how many samples op has seen in total.
func (l *LatencyTracker) Observe(op string, d time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.samples[op], d)
	if len(window) > l.maxSize {
		window = window[len(window)-l.maxSize:]
	}
	l.samples[op] = window
	l.total[op]++
	return l.total[op]
}

// Percentile returns the p-th percentile (0-100) for op, or zero without samples.
func (l *LatencyTracker) Percentile(op string, p float64) time.Duration {
	l.mu.RLock()
	sorted := append([]time.Duration(nil), l.samples[op]...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}

// Count returns the number of retained samples for op.
func (l *LatencyTracker) Count(op string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples[op])
}
