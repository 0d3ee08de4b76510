// Package metrics is the tiny facade the pipeline reports through. The core
// depends only on Backend; concrete backends (datadog) live in subpackages and
// are installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the pipeline.
const (
	StageTotal           = "etl_stage_total"            // labels: stage, status
	StageDurationSeconds = "etl_stage_duration_seconds" // labels: stage, status
	RecordsTotal         = "etl_records_total"          // labels: stage, kind
	DiagnosticsTotal     = "etl_diagnostics_total"      // labels: stage, kind
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStage reports one finished stage run.
func RecordStage(stage, status string, d time.Duration) {
	l := Labels{"stage": stage, "status": status}
	IncCounter(StageTotal, 1, l)
	ObserveHistogram(StageDurationSeconds, d.Seconds(), l)
}

// RecordCount adds n records of kind (processed, skipped, join_skipped).
func RecordCount(stage, kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"stage": stage, "kind": kind})
}

// RecordDiagnostics adds per-kind diagnostic counts for a stage.
func RecordDiagnostics[K ~string](stage string, counts map[K]int) {
	for k, n := range counts {
		if n > 0 {
			IncCounter(DiagnosticsTotal, float64(n), Labels{"stage": stage, "kind": string(k)})
		}
	}
}
