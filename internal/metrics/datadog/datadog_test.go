package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"equipdb/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// intake records every payload a Backend submits.
type intake struct {
	mu    sync.Mutex
	got   []datadogV2.MetricPayload
	fails error
}

func (in *intake) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.got = append(in.got, body)
	return datadogV2.IntakePayloadAccepted{}, nil, in.fails
}

func (in *intake) submissions() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.got)
}

// series returns every series named metric across all submitted payloads.
func (in *intake) series(metric string) []datadogV2.MetricSeries {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []datadogV2.MetricSeries
	for _, p := range in.got {
		for _, s := range p.Series {
			if s.Metric == metric {
				out = append(out, s)
			}
		}
	}
	return out
}

// valueFor returns the point value of the series named metric carrying all tags.
func (in *intake) valueFor(t *testing.T, metric string, tags ...string) float64 {
	t.Helper()
	for _, s := range in.series(metric) {
		if hasTags(s.Tags, tags...) {
			return *s.Points[0].Value
		}
	}
	t.Fatalf("no %s series tagged %v", metric, tags)
	return 0
}

func hasTags(have []string, want ...string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// runBackend returns a backend whose ticker never fires within a test.
func runBackend(t *testing.T, in *intake) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:   "equipdb-test",
		Tags:      []string{"run:0f1e"},
		submitter: in,
		now:       func() time.Time { return time.Unix(1700000000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestFlush_ReportsAFullRun(t *testing.T) {
	in := &intake{}
	b := runBackend(t, in)
	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	metrics.RecordStage("stats", "ok", 1500*time.Millisecond)
	metrics.RecordCount("stats", "processed", 5)
	metrics.RecordCount("stats", "skipped", 2)
	metrics.RecordDiagnostics("stats", map[string]int{"cyclic_base": 2, "missing_base": 1, "damage_parse": 0})

	metrics.RecordStage("weapon_property", "ok", 250*time.Millisecond)
	metrics.RecordCount("weapon_property", "processed", 2)
	metrics.RecordCount("weapon_property", "join_skipped", 1)

	metrics.RecordStage("weapon_name", "error", 250*time.Millisecond)

	if err := metrics.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if in.submissions() != 1 {
		t.Fatalf("submissions=%d, want 1", in.submissions())
	}

	if v := in.valueFor(t, "etl.records.total", "stage:stats", "kind:processed", "job:equipdb-test", "run:0f1e"); v != 5 {
		t.Fatalf("stats processed=%v, want 5", v)
	}
	if v := in.valueFor(t, "etl.records.total", "stage:weapon_property", "kind:join_skipped"); v != 1 {
		t.Fatalf("join_skipped=%v, want 1", v)
	}
	if v := in.valueFor(t, "etl.diagnostics.total", "stage:stats", "kind:cyclic_base"); v != 2 {
		t.Fatalf("cyclic_base=%v, want 2", v)
	}
	for _, s := range in.series("etl.diagnostics.total") {
		if hasTags(s.Tags, "kind:damage_parse") {
			t.Fatalf("zero diagnostic count was submitted: %v", s.Tags)
		}
	}
	if v := in.valueFor(t, "etl.stage.total", "stage:weapon_name", "status:error"); v != 1 {
		t.Fatalf("weapon_name error=%v, want 1", v)
	}
	if v := in.valueFor(t, "etl.stage.duration_seconds.max", "stage:stats", "status:ok"); v != 1.5 {
		t.Fatalf("stats duration max=%v, want 1.5", v)
	}

	for _, s := range in.series("etl.stage.total") {
		if *s.Type != datadogV2.METRICINTAKETYPE_COUNT {
			t.Fatalf("stage total type=%v, want COUNT", *s.Type)
		}
		if *s.Points[0].Timestamp != 1700000000 {
			t.Fatalf("timestamp=%d", *s.Points[0].Timestamp)
		}
	}

	// buffers are empty after a flush
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if in.submissions() != 1 {
		t.Fatalf("empty flush submitted; submissions=%d", in.submissions())
	}
}

func TestFlush_FailedSubmitDropsBuffer(t *testing.T) {
	in := &intake{fails: errors.New("503 from intake")}
	b := runBackend(t, in)

	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "stats", "status": "error"})
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush err=nil, want intake error")
	}

	in.fails = nil
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush after failure: %v", err)
	}
	if in.submissions() != 1 {
		t.Fatalf("submissions=%d, want 1 (dropped batch is not retried)", in.submissions())
	}
}

func TestDurationPercentiles(t *testing.T) {
	in := &intake{}
	b := runBackend(t, in)

	// five stats runs during a watch session
	for _, sec := range []float64{0.4, 0.1, 0.3, 0.5, 0.2} {
		b.ObserveHistogram(metrics.StageDurationSeconds, sec, metrics.Labels{"stage": "stats", "status": "ok"})
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := map[string]float64{
		"etl.stage.duration_seconds.p50":     0.3,
		"etl.stage.duration_seconds.p90":     0.5,
		"etl.stage.duration_seconds.p99":     0.5,
		"etl.stage.duration_seconds.max":     0.5,
		"etl.stage.duration_seconds.samples": 5,
	}
	for metric, w := range want {
		if got := in.valueFor(t, metric, "stage:stats", "status:ok"); got != w {
			t.Fatalf("%s=%v, want %v", metric, got, w)
		}
	}
	for _, s := range in.series("etl.stage.duration_seconds.p50") {
		if *s.Type != datadogV2.METRICINTAKETYPE_GAUGE {
			t.Fatalf("percentile type=%v, want GAUGE", *s.Type)
		}
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		in   []float64
		want float64
	}{
		{p: 0.5, in: nil, want: 0},
		{p: 0.99, in: []float64{42}, want: 42},
		{p: -0.5, in: sorted, want: 1},
		{p: 1.5, in: sorted, want: 5},
		{p: 0.5, in: sorted, want: 3},
		{p: 0.9, in: sorted, want: 5},
	}
	for _, tc := range tests {
		if got := percentileNearestRank(tc.in, tc.p); got != tc.want {
			t.Errorf("percentileNearestRank(%v, %v)=%v, want %v", tc.in, tc.p, got, tc.want)
		}
	}
}

func TestIgnoredEvents(t *testing.T) {
	in := &intake{}
	b := runBackend(t, in)

	b.IncCounter(metrics.StageTotal, 0, metrics.Labels{"stage": "stats", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"stage": "stats"})
	b.IncCounter(metrics.DiagnosticsTotal, 1, metrics.Labels{"stage": "weapon_name"})
	b.IncCounter("etl_rows_copied_total", 1, metrics.Labels{"stage": "stats"})
	b.ObserveHistogram(metrics.StageDurationSeconds, -0.1, metrics.Labels{"stage": "stats", "status": "ok"})
	b.ObserveHistogram("etl_batch_seconds", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if in.submissions() != 0 {
		t.Fatalf("ignored events produced %d submissions", in.submissions())
	}
}

func TestBuildSeries_StageOrder(t *testing.T) {
	b := &Backend{baseTags: []string{"job:equipdb"}}
	got := b.buildSeries(snapshot{
		recordCounts: map[string]float64{
			pairKey("weapon_name", "processed"): 3,
			pairKey("stats", "skipped"):         1,
			pairKey("stats", "processed"):       9,
			pairKey("weapon_property", "none"):  0,
		},
	}, 1)

	var order [][]string
	for _, s := range got {
		order = append(order, s.Tags[1:])
	}
	want := [][]string{
		{"stage:stats", "kind:processed"},
		{"stage:stats", "kind:skipped"},
		{"stage:weapon_name", "kind:processed"},
	}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("series tags=%v, want %v", order, want)
	}
}

func TestBackend_ParallelWatchRuns(t *testing.T) {
	in := &intake{}
	b := runBackend(t, in)

	stages := []string{"stats", "weapon_property", "weapon_name"}
	const runs = 500

	var wg sync.WaitGroup
	for _, st := range stages {
		wg.Add(1)
		go func(stage string) {
			defer wg.Done()
			for i := 0; i < runs; i++ {
				b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": stage, "status": "ok"})
				b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"stage": stage, "kind": "processed"})
				b.ObserveHistogram(metrics.StageDurationSeconds, 0.01, metrics.Labels{"stage": stage, "status": "ok"})
			}
		}(st)
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, st := range stages {
		if v := in.valueFor(t, "etl.records.total", "stage:"+st, "kind:processed"); v != 2*runs {
			t.Fatalf("%s processed=%v, want %d", st, v, 2*runs)
		}
		if v := in.valueFor(t, "etl.stage.duration_seconds.samples", "stage:"+st); v != runs {
			t.Fatalf("%s samples=%v, want %d", st, v, runs)
		}
	}
}

func TestTickerFlushesAndCloseFlushesTail(t *testing.T) {
	in := &intake{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  in,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "stats", "status": "ok"})
	deadline := time.Now().Add(time.Second)
	for in.submissions() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if in.submissions() == 0 {
		_ = b.Close()
		t.Fatalf("ticker never flushed")
	}

	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "weapon_name", "status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(in.series("etl.stage.total")) < 2 {
		t.Fatalf("tail counter was not flushed on Close")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close twice: %v", err)
	}
}

func TestNewBackend(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DD_ENV", "staging")

	b, err := NewBackend(context.Background(), Options{
		submitter: &intake{},
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	if want := []string{"env:staging", "job:equipdb"}; !reflect.DeepEqual(b.baseTags, want) {
		t.Fatalf("baseTags=%v, want %v", b.baseTags, want)
	}
	if b.flushEvery != time.Minute {
		t.Fatalf("flushEvery=%s, want 1m", b.flushEvery)
	}

	var noCtx context.Context
	if _, err := NewBackend(noCtx, Options{submitter: &intake{}}); err == nil {
		t.Fatalf("NewBackend(nil ctx) succeeded")
	}
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct{ env, ddEnv, want string }{
		{"prod", "staging", "env:prod"},
		{"", "staging", "env:staging"},
		{" ", "\t", "env:unknown"},
		{"", "", "env:unknown"},
	}
	for _, tc := range tests {
		t.Setenv("ENV", tc.env)
		t.Setenv("DD_ENV", tc.ddEnv)
		if got := resolveEnvTag(); got != tc.want {
			t.Errorf("ENV=%q DD_ENV=%q: got %q, want %q", tc.env, tc.ddEnv, got, tc.want)
		}
	}
}

func TestPairKey(t *testing.T) {
	for _, p := range [][2]string{{"stats", "ok"}, {"weapon_property", "join_skipped"}, {"", ""}} {
		stage, second := splitPairKey(pairKey(p[0], p[1]))
		if stage != p[0] || second != p[1] {
			t.Errorf("pairKey(%q, %q) split to (%q, %q)", p[0], p[1], stage, second)
		}
	}
	if stage, second := splitPairKey("stats"); stage != "stats" || second != "unknown" {
		t.Errorf("splitPairKey without separator = (%q, %q)", stage, second)
	}
}

func TestParseTagsCSV(t *testing.T) {
	if got := ParseTagsCSV(""); got != nil {
		t.Fatalf("ParseTagsCSV(\"\")=%v, want nil", got)
	}
	got := ParseTagsCSV(" env:prod , ,run:0f1e,team:data ")
	if want := []string{"env:prod", "run:0f1e", "team:data"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseTagsCSV=%v, want %v", got, want)
	}
}
