package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	jsondoc "equipdb/internal/parser/json"
	"equipdb/internal/reconcile"
	"equipdb/internal/schema"
	"equipdb/internal/storage"
)

// WeaponPropertyStage joins equipment rows to weapon_property.json through
// equipment.weapon_id and writes the wp_* columns of every match.
type WeaponPropertyStage struct {
	Document string
	Logger   Logger
}

func (s *WeaponPropertyStage) Name() string { return StageWeaponProperty }

func (s *WeaponPropertyStage) Run(ctx context.Context, inputDir string, repo storage.Repository) (Summary, error) {
	start := time.Now()
	sum := Summary{Stage: StageWeaponProperty}
	logf := logger(s.Logger)

	store, err := jsondoc.LoadFile(ctx, filepath.Join(inputDir, s.Document))
	if err != nil {
		return sum, fmt.Errorf("weapon_property: %w", err)
	}
	sum.rejectNonObjects(store)

	tx, err := repo.Begin(ctx)
	if err != nil {
		return sum, fmt.Errorf("weapon_property: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t := schema.Equipment
	links, err := tx.SelectLinks(ctx, t.Name, t.Key(), "weapon_id")
	if err != nil {
		return sum, fmt.Errorf("weapon_property: select links: %w", err)
	}

	res := reconcile.WeaponProperty().Reconcile(links, store)
	sum.Diagnostics.Merge(res.Diagnostics)
	sum.JoinSkipped = res.Unmatched + res.NoForeign
	logf("stage=weapon_property links=%d matched=%d unmatched=%d", len(links), res.Matched, res.Unmatched)

	for _, row := range res.Fragments {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		k, _ := row.Key()
		if err := tx.Upsert(ctx, row.UpsertSpec(nil), row.Values()); err != nil {
			return sum, fmt.Errorf("weapon_property: upsert %d: %w", k, err)
		}
		sum.Processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return sum, fmt.Errorf("weapon_property: commit: %w", err)
	}
	sum.Duration = durMS(start)
	return sum, nil
}
