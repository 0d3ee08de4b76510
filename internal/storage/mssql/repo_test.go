package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"equipdb/internal/storage"
)

// fakeTx records statements instead of talking to SQL Server.
type fakeTx struct {
	queries   []string
	args      [][]any
	execErr   error
	commits   int
	rollbacks int
	committed bool
}

func (f *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil, f.execErr
}

func (f *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported by fake")
}

func (f *fakeTx) Commit() error {
	f.commits++
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback() error {
	f.rollbacks++
	if f.committed {
		return sql.ErrTxDone
	}
	return nil
}

type fakeDB struct {
	execs []string
	tx    *fakeTx
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return nil, nil
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return f.tx, nil
}

func (f *fakeDB) Close() error { return nil }

var equipSpec = storage.UpsertSpec{
	Table:     "dbo.equipment",
	KeyColumn: "id",
	Columns:   []string{"id", "name", "stat_hp"},
	Actions:   map[string]storage.ConflictAction{"name": storage.Coalesce},
}

func TestBuildMergeSQL(t *testing.T) {
	t.Parallel()

	got, err := buildMergeSQL(equipSpec)
	if err != nil {
		t.Fatalf("buildMergeSQL: %v", err)
	}
	want := "MERGE INTO [dbo].[equipment] WITH (HOLDLOCK) AS t USING (SELECT @p1 AS [id], @p2 AS [name], @p3 AS [stat_hp]) AS s ON t.[id] = s.[id]" +
		" WHEN MATCHED THEN UPDATE SET t.[name] = COALESCE(s.[name], t.[name]), t.[stat_hp] = s.[stat_hp]" +
		" WHEN NOT MATCHED THEN INSERT ([id], [name], [stat_hp]) VALUES (s.[id], s.[name], s.[stat_hp]);"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestBuildMergeSQL_FillNullPrefersTarget(t *testing.T) {
	t.Parallel()

	got, err := buildMergeSQL(storage.UpsertSpec{
		Table:     "equipment",
		KeyColumn: "id",
		Columns:   []string{"id", "name"},
		Actions:   map[string]storage.ConflictAction{"name": storage.FillNull},
	})
	if err != nil {
		t.Fatalf("buildMergeSQL: %v", err)
	}
	if !strings.Contains(got, "WHEN MATCHED THEN UPDATE SET t.[name] = COALESCE(t.[name], s.[name])") {
		t.Fatalf("got %s", got)
	}
}

func TestBuildMergeSQL_KeyOnlyOmitsMatchedBranch(t *testing.T) {
	t.Parallel()

	got, err := buildMergeSQL(storage.UpsertSpec{Table: "equipment", KeyColumn: "id", Columns: []string{"id"}})
	if err != nil {
		t.Fatalf("buildMergeSQL: %v", err)
	}
	if strings.Contains(got, "WHEN MATCHED") {
		t.Fatalf("unexpected WHEN MATCHED: %s", got)
	}
}

func TestBuildCreateSQL_WrapsInObjectIDGuard(t *testing.T) {
	t.Parallel()

	got, err := buildCreateSQL(storage.TableSpec{
		Name: "skills",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: storage.TypeInteger, PrimaryKey: true},
			{Name: "effects", Type: storage.TypeText},
			{Name: "cd", Type: storage.TypeReal},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	want := "IF OBJECT_ID(N'skills', N'U') IS NULL BEGIN CREATE TABLE [skills] ([id] BIGINT NOT NULL PRIMARY KEY, [effects] NVARCHAR(MAX) NULL, [cd] FLOAT NULL); END;"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestRepo_UpsertPassesRowThroughMerge(t *testing.T) {
	t.Parallel()

	ftx := &fakeTx{}
	db := &fakeDB{tx: ftx}
	repo := &Repo{db: db}
	ctx := context.Background()

	if err := repo.EnsureTables(ctx, []storage.TableSpec{{
		Name:    "equipment",
		Columns: []storage.ColumnSpec{{Name: "id", Type: storage.TypeInteger, PrimaryKey: true}},
	}}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("execs=%d, want 1", len(db.execs))
	}

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Upsert(ctx, equipSpec, []any{int64(42), nil, 3.5}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit: %v", err)
	}

	if len(ftx.queries) != 1 || !strings.HasPrefix(ftx.queries[0], "MERGE INTO") {
		t.Fatalf("queries=%v", ftx.queries)
	}
	if len(ftx.args[0]) != 3 || ftx.args[0][0] != int64(42) || ftx.args[0][1] != nil {
		t.Fatalf("args=%v", ftx.args[0])
	}
}

func TestRepo_UpsertWrapsExecError(t *testing.T) {
	t.Parallel()

	boom := errors.New("deadlock")
	repo := &Repo{db: &fakeDB{tx: &fakeTx{execErr: boom}}}
	tx, _ := repo.Begin(context.Background())

	err := tx.Upsert(context.Background(), equipSpec, []any{int64(1), "x", nil})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped %v", err, boom)
	}
}
