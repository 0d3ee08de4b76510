package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"equipdb/internal/metrics"
	"equipdb/internal/projector"
	"equipdb/internal/schema"
	"equipdb/internal/storage"
)

// Documents names the input files inside the input directory.
type Documents struct {
	Stats          string
	WeaponProperty string
	WeaponName     string
}

// Stages builds the three stages in run order.
func Stages(docs Documents, proj *projector.Projector, l Logger, debug bool) []Stage {
	return []Stage{
		&StatsStage{Document: docs.Stats, Projector: proj, Logger: l, Debug: debug},
		&WeaponPropertyStage{Document: docs.WeaponProperty, Logger: l},
		&WeaponNameStage{Document: docs.WeaponName, Logger: l},
	}
}

// Select returns the stage called name.
func Select(stages []Stage, name string) (Stage, error) {
	for _, s := range stages {
		if s.Name() == name {
			return s, nil
		}
	}
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return nil, fmt.Errorf("unknown stage %q (want one of %v)", name, names)
}

// NewRunID returns a fresh id for log prefixes and metric tags.
func NewRunID() string { return uuid.NewString() }

type Runner struct {
	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Logger        Logger
	// Verbose logs every diagnostic, not only the per-kind counts.
	Verbose bool
}

func NewDefaultRunner(l Logger) *Runner {
	return &Runner{
		NewRepository: storage.New,
		Logger:        l,
	}
}

// Run opens the store, creates missing tables and runs stages in order,
// stopping at the first stage that fails. Summaries of every stage that ran,
// the failed one included, are returned.
func (r *Runner) Run(ctx context.Context, cfg storage.Config, inputDir string, stages ...Stage) ([]Summary, error) {
	if r.NewRepository == nil {
		return nil, fmt.Errorf("runner: NewRepository is required")
	}
	logf := logger(r.Logger)

	repo, err := r.NewRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Kind, err)
	}
	defer repo.Close()

	ddlStart := time.Now()
	if err := repo.EnsureTables(ctx, schema.Specs(schema.All()...)); err != nil {
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	out := make([]Summary, 0, len(stages))
	for _, st := range stages {
		sum, err := r.runStage(ctx, st, inputDir, repo)
		out = append(out, sum)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Runner) runStage(ctx context.Context, st Stage, inputDir string, repo storage.Repository) (Summary, error) {
	logf := logger(r.Logger)
	start := time.Now()

	sum, err := st.Run(ctx, inputDir, repo)
	sum.Stage = st.Name()
	if sum.Duration == 0 {
		sum.Duration = durMS(start)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStage(sum.Stage, status, time.Since(start))
	metrics.RecordDiagnostics(sum.Stage, sum.Diagnostics.ByKind())
	if err != nil {
		logf("stage=%s error duration=%s err=%v", sum.Stage, sum.Duration, err)
		return sum, err
	}

	metrics.RecordCount(sum.Stage, "processed", sum.Processed)
	metrics.RecordCount(sum.Stage, "skipped", sum.Skipped)
	metrics.RecordCount(sum.Stage, "join_skipped", sum.JoinSkipped)
	logf("stage=%s ok duration=%s processed=%d skipped=%d join_skipped=%d diagnostics=%q",
		sum.Stage, sum.Duration, sum.Processed, sum.Skipped, sum.JoinSkipped, sum.Diagnostics.Summary())
	if r.Verbose {
		for _, d := range sum.Diagnostics.Items() {
			logf("stage=%s %s", sum.Stage, d)
		}
	}
	return sum, nil
}
