package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type event struct {
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu      sync.Mutex
	events  []event
	flushed int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name, value, labels})
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

func TestRecordStage(t *testing.T) {
	rec := &recorder{}
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStage("stats", "ok", 1500*time.Millisecond)
	RecordCount("stats", "processed", 4)
	RecordCount("stats", "skipped", 0)
	RecordDiagnostics("stats", map[string]int{"damage_parse": 2, "cyclic_base": 0})

	assert.Equal(t, []event{
		{StageTotal, 1, Labels{"stage": "stats", "status": "ok"}},
		{StageDurationSeconds, 1.5, Labels{"stage": "stats", "status": "ok"}},
		{RecordsTotal, 4, Labels{"stage": "stats", "kind": "processed"}},
		{DiagnosticsTotal, 2, Labels{"stage": "stats", "kind": "damage_parse"}},
	}, rec.events)

	assert.NoError(t, Flush())
	assert.Equal(t, 1, rec.flushed)
}

func TestNopBackend(t *testing.T) {
	SetBackend(nil)
	IncCounter(StageTotal, 1, nil)
	ObserveHistogram(StageDurationSeconds, 1, nil)
	assert.NoError(t, Flush())
}
