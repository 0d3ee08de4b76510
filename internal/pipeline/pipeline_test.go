package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equipdb/internal/diag"
	jsondoc "equipdb/internal/parser/json"
	"equipdb/internal/projector"
	"equipdb/internal/storage"
	_ "equipdb/internal/storage/sqlite"
)

var testDocs = Documents{
	Stats:          "equip_data_statistics.json",
	WeaponProperty: "weapon_property.json",
	WeaponName:     "weapon_name.json",
}

const statsDoc = `{
  "100": {"id": 100, "name": "Base Gun", "type": 1, "rarity": 3, "nationality": 1,
          "damage": "10x2", "attribute_1": "cannon", "value_1": 5,
          "weapon_id": [1300], "label": ["MG"], "ammo_info": [[1, 2]]},
  "101": {"id": 101, "base": 100, "name": "Gun T1",
          "attribute_1": "health", "value_1": 0, "attribute_2": "durability", "value_2": "20"},
  "102": {"id": 102, "base": 999, "damage": "bad", "weapon_id": [4242]},
  "103": {"id": 103, "base": 104},
  "104": {"id": 104, "base": 103},
  "bad": {"name": "no id"},
  "105": "not an object"
}`

const weaponPropertyDoc = `{
  "1300": {"id": 1300, "type": 2, "range": 75, "bullet_ID": [9]}
}`

const weaponNameDoc = `{
  "100": {"id": 100, "name": null},
  "200": {"id": 200, "name": "Only Named"},
  "x": [1]
}`

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func allDocs(t *testing.T) string {
	return writeDocs(t, map[string]string{
		testDocs.Stats:          statsDoc,
		testDocs.WeaponProperty: weaponPropertyDoc,
		testDocs.WeaponName:     weaponNameDoc,
	})
}

func testStages(t *testing.T) []Stage {
	t.Helper()
	proj, err := projector.New(nil, projector.Options{HealthFallback: true})
	require.NoError(t, err)
	return Stages(testDocs, proj, nil, false)
}

func sqliteConfig(t *testing.T) storage.Config {
	return storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "equip.db")}
}

type equipRow struct {
	Name       sql.NullString
	StatHP     sql.NullFloat64
	Firepower  sql.NullFloat64
	WeaponID   sql.NullInt64
	Damage     sql.NullFloat64
	Volley     sql.NullInt64
	SubType    sql.NullString
	WPRange    sql.NullFloat64
	WPBullets  sql.NullString
	WPPropJSON sql.NullString
}

func readRow(t *testing.T, dsn string, id int64) (equipRow, bool) {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var r equipRow
	err = db.QueryRow(`SELECT name, stat_hp, stat_firepower, weapon_id, base_damage_initial,
		volley_count, sub_type, wp_range, wp_bullet_ids, weapon_property_json
		FROM equipment WHERE id = ?`, id).Scan(
		&r.Name, &r.StatHP, &r.Firepower, &r.WeaponID, &r.Damage,
		&r.Volley, &r.SubType, &r.WPRange, &r.WPBullets, &r.WPPropJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false
	}
	require.NoError(t, err)
	return r, true
}

func TestRunner_EndToEnd(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := allDocs(t)

	sums, err := NewDefaultRunner(nil).Run(context.Background(), cfg, dir, testStages(t)...)
	require.NoError(t, err)
	require.Len(t, sums, 3)

	stats := sums[0]
	assert.Equal(t, StageStats, stats.Stage)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, map[diag.Kind]int{
		diag.MissingBase:   1,
		diag.CyclicBase:    2,
		diag.DamageParse:   1,
		diag.BadIdentifier: 1,
		diag.NotAnObject:   1,
	}, stats.Diagnostics.ByKind())

	wp := sums[1]
	assert.Equal(t, 2, wp.Processed)
	assert.Equal(t, 1, wp.JoinSkipped)

	names := sums[2]
	assert.Equal(t, 2, names.Processed)
	assert.Equal(t, 1, names.Skipped)

	base, ok := readRow(t, cfg.DSN, 100)
	require.True(t, ok)
	assert.Equal(t, "Base Gun", base.Name.String)
	assert.Equal(t, 5.0, base.Firepower.Float64)
	assert.Equal(t, int64(1300), base.WeaponID.Int64)
	assert.Equal(t, 10.0, base.Damage.Float64)
	assert.Equal(t, int64(2), base.Volley.Int64)
	assert.Equal(t, "主炮", base.SubType.String)
	assert.Equal(t, 75.0, base.WPRange.Float64)
	assert.Equal(t, "[9]", base.WPBullets.String)
	assert.JSONEq(t, `{"id": 1300, "type": 2, "range": 75, "bullet_ID": [9]}`, base.WPPropJSON.String)

	derived, ok := readRow(t, cfg.DSN, 101)
	require.True(t, ok)
	assert.Equal(t, "Gun T1", derived.Name.String)
	assert.Equal(t, 20.0, derived.StatHP.Float64)
	assert.False(t, derived.Firepower.Valid, "own attribute_1 replaces the inherited one")
	assert.Equal(t, int64(1300), derived.WeaponID.Int64)
	assert.True(t, derived.WPRange.Valid)

	sparse, ok := readRow(t, cfg.DSN, 102)
	require.True(t, ok)
	assert.False(t, sparse.Damage.Valid)
	assert.False(t, sparse.Volley.Valid)
	assert.Equal(t, int64(4242), sparse.WeaponID.Int64)
	assert.False(t, sparse.WPRange.Valid)
	assert.False(t, sparse.WPPropJSON.Valid)

	onlyNamed, ok := readRow(t, cfg.DSN, 200)
	require.True(t, ok)
	assert.Equal(t, "Only Named", onlyNamed.Name.String)
}

func TestWeaponNameStage_KeepsStoredNames(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := writeDocs(t, map[string]string{
		testDocs.Stats:          `{"1": {"id": 1, "name": "Foo"}, "2": {"id": 2}}`,
		testDocs.WeaponProperty: `{}`,
		testDocs.WeaponName:     `{"1": {"id": 1, "name": "Bar"}, "2": {"id": 2, "name": "Filled"}}`,
	})

	_, err := NewDefaultRunner(nil).Run(context.Background(), cfg, dir, testStages(t)...)
	require.NoError(t, err)

	named, ok := readRow(t, cfg.DSN, 1)
	require.True(t, ok)
	assert.Equal(t, "Foo", named.Name.String)

	filled, ok := readRow(t, cfg.DSN, 2)
	require.True(t, ok)
	assert.Equal(t, "Filled", filled.Name.String)

	// a later stats pass still supplies its own name
	_, err = NewDefaultRunner(nil).Run(context.Background(), cfg, dir, testStages(t)...)
	require.NoError(t, err)
	named, _ = readRow(t, cfg.DSN, 1)
	assert.Equal(t, "Foo", named.Name.String)
}

func TestRunner_RerunIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := allDocs(t)
	r := NewDefaultRunner(nil)

	_, err := r.Run(context.Background(), cfg, dir, testStages(t)...)
	require.NoError(t, err)
	first, _ := readRow(t, cfg.DSN, 101)

	_, err = r.Run(context.Background(), cfg, dir, testStages(t)...)
	require.NoError(t, err)
	second, _ := readRow(t, cfg.DSN, 101)

	assert.Equal(t, first, second)
}

func TestRunner_StopsAtFirstFailingStage(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := writeDocs(t, map[string]string{
		testDocs.Stats:      statsDoc,
		testDocs.WeaponName: weaponNameDoc,
	})

	sums, err := NewDefaultRunner(nil).Run(context.Background(), cfg, dir, testStages(t)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, jsondoc.ErrDocumentMissing)
	require.Len(t, sums, 2)

	// The stats stage committed before the failure.
	_, ok := readRow(t, cfg.DSN, 100)
	assert.True(t, ok)
	_, ok = readRow(t, cfg.DSN, 200)
	assert.False(t, ok)
}

func TestStage_RunsAlone(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := allDocs(t)
	stages := testStages(t)

	st, err := Select(stages, StageWeaponName)
	require.NoError(t, err)
	sums, err := NewDefaultRunner(nil).Run(context.Background(), cfg, dir, st)
	require.NoError(t, err)
	require.Len(t, sums, 1)

	row, ok := readRow(t, cfg.DSN, 100)
	require.True(t, ok)
	assert.False(t, row.Name.Valid)

	_, err = Select(stages, "ships")
	assert.Error(t, err)
}

func TestStatsStage_DebugDumpsMergedRecords(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := allDocs(t)
	proj, err := projector.New(nil, projector.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	st := &StatsStage{
		Document:  testDocs.Stats,
		Projector: proj,
		Logger:    log.New(&buf, "", 0),
		Debug:     true,
	}
	_, err = NewDefaultRunner(nil).Run(context.Background(), cfg, dir, st)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "stage=stats id=100 chain=")
	assert.Contains(t, buf.String(), `"Base Gun"`)
}

func TestRunner_MalformedDocumentIsFatal(t *testing.T) {
	cfg := sqliteConfig(t)
	dir := writeDocs(t, map[string]string{testDocs.Stats: `[1, 2, 3]`})

	st, err := Select(testStages(t), StageStats)
	require.NoError(t, err)
	_, err = NewDefaultRunner(nil).Run(context.Background(), cfg, dir, st)
	assert.ErrorIs(t, err, jsondoc.ErrMalformedDocument)
}

// ---- store failure and rollback ----

type fakeTx struct {
	failUpsert bool
	upserts    int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Upsert(ctx context.Context, spec storage.UpsertSpec, row []any) error {
	if f.failUpsert {
		return errors.New("connection lost")
	}
	f.upserts++
	return nil
}

func (f *fakeTx) SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]storage.Link, error) {
	return nil, nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeRepo struct {
	tx     *fakeTx
	tables []storage.TableSpec
	closed bool
}

func (f *fakeRepo) Close() { f.closed = true }

func (f *fakeRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	f.tables = tables
	return nil
}

func (f *fakeRepo) Begin(ctx context.Context) (storage.Tx, error) { return f.tx, nil }

func fakeRunner(repo *fakeRepo) *Runner {
	return &Runner{
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return repo, nil
		},
	}
}

func TestRunner_StoreFailureRollsBack(t *testing.T) {
	repo := &fakeRepo{tx: &fakeTx{failUpsert: true}}
	st, err := Select(testStages(t), StageStats)
	require.NoError(t, err)

	_, err = fakeRunner(repo).Run(context.Background(), storage.Config{Kind: "fake"}, allDocs(t), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.True(t, repo.tx.rolledBack)
	assert.False(t, repo.tx.committed)
	assert.True(t, repo.closed)
}

func TestRunner_CreatesAllTables(t *testing.T) {
	repo := &fakeRepo{tx: &fakeTx{}}
	_, err := fakeRunner(repo).Run(context.Background(), storage.Config{Kind: "fake"}, allDocs(t))
	require.NoError(t, err)

	var names []string
	for _, ts := range repo.tables {
		names = append(names, ts.Name)
	}
	assert.Equal(t, []string{"equipment", "ships", "skills"}, names)
}

func TestRunner_CanceledContext(t *testing.T) {
	repo := &fakeRepo{tx: &fakeTx{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fakeRunner(repo).Run(ctx, storage.Config{Kind: "fake"}, allDocs(t), testStages(t)...)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, repo.tx.committed)
}

func TestSummary_String(t *testing.T) {
	s := Summary{Stage: StageWeaponProperty, Processed: 3, Skipped: 1, JoinSkipped: 2}
	s.Diagnostics.Add(diag.New(diag.CoerceFailed, "1", "range", "bad"))
	assert.Equal(t, `stage=weapon_property processed=3 skipped=1 join_skipped=2 diagnostics="coerce_failed=1"`, s.String())
}
