package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"equipdb/internal/diag"
	jsondoc "equipdb/internal/parser/json"
	"equipdb/internal/projector"
	"equipdb/internal/schema"
	"equipdb/internal/storage"
)

// WeaponNameStage makes sure every id of the name cross-reference exists as an
// equipment row and fills in names the stats document did not supply. A name
// already stored is never replaced.
type WeaponNameStage struct {
	Document string
	Logger   Logger
}

func (s *WeaponNameStage) Name() string { return StageWeaponName }

func (s *WeaponNameStage) Run(ctx context.Context, inputDir string, repo storage.Repository) (Summary, error) {
	start := time.Now()
	sum := Summary{Stage: StageWeaponName}

	store, err := jsondoc.LoadFile(ctx, filepath.Join(inputDir, s.Document))
	if err != nil {
		return sum, fmt.Errorf("weapon_name: %w", err)
	}
	sum.rejectNonObjects(store)

	tx, err := repo.Begin(ctx)
	if err != nil {
		return sum, fmt.Errorf("weapon_name: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range store.IDs() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, _ := store.Get(key)

		id, err := projector.Identifier(key, rec)
		if errors.Is(err, projector.ErrBadIdentifier) {
			sum.Diagnostics.Add(diag.New(diag.BadIdentifier, key, "id", "%v", err))
			sum.Skipped++
			continue
		}

		row := schema.Equipment.MustRow("name")
		_ = row.Set("id", id)
		if err := row.SetValue("name", rec.Get("name")); err != nil {
			sum.Diagnostics.Add(diag.New(diag.CoerceFailed, key, "name", "%v", err))
		}

		if err := tx.Upsert(ctx, row.UpsertSpec(fillNameActions), row.Values()); err != nil {
			return sum, fmt.Errorf("weapon_name: upsert %d: %w", id, err)
		}
		sum.Processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return sum, fmt.Errorf("weapon_name: commit: %w", err)
	}
	sum.Duration = durMS(start)
	return sum, nil
}
