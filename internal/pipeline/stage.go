// Package pipeline runs the load stages against one storage.Repository.
//
// Each stage loads its own document and writes through its own transaction,
// so a failed stage can be re-run alone without repeating the others.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"equipdb/internal/diag"
	"equipdb/internal/record"
	"equipdb/internal/storage"
)

// Stage names, in run order.
const (
	StageStats          = "stats"
	StageWeaponProperty = "weapon_property"
	StageWeaponName     = "weapon_name"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stage is one independently runnable load step.
type Stage interface {
	Name() string
	Run(ctx context.Context, inputDir string, repo storage.Repository) (Summary, error)
}

// Summary is the end-of-stage report. A stage that returned an error has
// written nothing, whatever the counts say.
type Summary struct {
	Stage       string
	Processed   int
	Skipped     int
	JoinSkipped int
	Diagnostics diag.Diagnostics
	Duration    time.Duration
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage=%s processed=%d skipped=%d", s.Stage, s.Processed, s.Skipped)
	if s.JoinSkipped > 0 {
		fmt.Fprintf(&b, " join_skipped=%d", s.JoinSkipped)
	}
	fmt.Fprintf(&b, " diagnostics=%q", s.Diagnostics.Summary())
	return b.String()
}

// rejectNonObjects counts document entries that were not objects.
func (s *Summary) rejectNonObjects(st *record.Store) {
	for _, r := range st.Rejected() {
		s.Skipped++
		s.Diagnostics.Add(diag.New(diag.NotAnObject, r.ID, "", "%s: entry is %s, not an object", st.Name(), r.Kind))
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = discardWriter{}

func logger(l Logger) func(format string, v ...any) {
	if l == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// nameActions keeps an existing name when a sparser source supplies none.
var nameActions = map[string]storage.ConflictAction{"name": storage.Coalesce}

// fillNameActions only writes a name into rows that have none yet.
var fillNameActions = map[string]storage.ConflictAction{"name": storage.FillNull}
