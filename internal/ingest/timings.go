package ingest

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timings tracks time spent in the stages of a run
type Timings struct {
	mu sync.Mutex

	// Reading and decoding messages
	ReadTotal time.Duration
	ReadCount int64

	// Writing batches through sinks
	BatchTotal time.Duration
	BatchCount int64

	// Sink creation, including schema discovery
	SetupTotal time.Duration
	SetupCount int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

// ObserveRead records a message read duration
func (t *Timings) ObserveRead(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTotal += duration
	t.ReadCount++
}

// ObserveBatch records a batch write duration
func (t *Timings) ObserveBatch(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BatchTotal += duration
	t.BatchCount++
}

// ObserveSetup records a sink setup duration
func (t *Timings) ObserveSetup(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SetupTotal += duration
	t.SetupCount++
}

// String returns a formatted summary of all timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	add := func(name string, total time.Duration, count int64) {
		if count > 0 {
			avg := total / time.Duration(count)
			parts = append(parts, fmt.Sprintf("%s: total=%v count=%d avg=%v", name, total, count, avg))
		}
	}

	add("Read", t.ReadTotal, t.ReadCount)
	add("Setup", t.SetupTotal, t.SetupCount)
	add("Batch", t.BatchTotal, t.BatchCount)

	if len(parts) == 0 {
		return "No timings recorded"
	}
	return strings.Join(parts, "; ")
}
