package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/davecgh/go-spew/spew"

	"equipdb/internal/inherit"
	jsondoc "equipdb/internal/parser/json"
	"equipdb/internal/projector"
	"equipdb/internal/record"
	"equipdb/internal/storage"
)

var dumper = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// StatsStage resolves inheritance for every record of the statistics document,
// projects it and upserts one equipment row per record.
type StatsStage struct {
	Document  string
	Projector *projector.Projector
	Logger    Logger
	// Debug dumps every merged record before projection.
	Debug bool
}

func (s *StatsStage) Name() string { return StageStats }

func (s *StatsStage) Run(ctx context.Context, inputDir string, repo storage.Repository) (Summary, error) {
	start := time.Now()
	sum := Summary{Stage: StageStats}
	logf := logger(s.Logger)

	if s.Projector == nil {
		return sum, fmt.Errorf("stats: projector is required")
	}

	store, err := jsondoc.LoadFile(ctx, filepath.Join(inputDir, s.Document))
	if err != nil {
		return sum, fmt.Errorf("stats: %w", err)
	}
	sum.rejectNonObjects(store)

	tx, err := repo.Begin(ctx)
	if err != nil {
		return sum, fmt.Errorf("stats: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	resolver := inherit.New(store)
	for _, id := range store.IDs() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := resolver.Resolve(id)
		if err != nil {
			return sum, fmt.Errorf("stats: resolve %s: %w", id, err)
		}
		sum.Diagnostics.Add(res.Diagnostics...)

		if s.Debug {
			logf("stage=stats id=%s chain=%v merged=\n%s", id, res.Chain, dumper.Sdump(record.Map(res.Record).Any()))
		}

		row, ds, err := s.Projector.Project(id, res.Record)
		sum.Diagnostics.Add(ds...)
		if errors.Is(err, projector.ErrBadIdentifier) {
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("stats: project %s: %w", id, err)
		}

		if err := tx.Upsert(ctx, row.UpsertSpec(nameActions), row.Values()); err != nil {
			return sum, fmt.Errorf("stats: upsert %s: %w", id, err)
		}
		sum.Processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return sum, fmt.Errorf("stats: commit: %w", err)
	}
	sum.Duration = durMS(start)
	return sum, nil
}
