package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"equipdb/internal/storage"
)

// Repo implements storage.Repository for SQLite using the pure-Go modernc driver.
//
// Key design points:
//   - One open connection. SQLite serializes writers anyway, and a stage's reads
//     run inside its own transaction, so a single connection never deadlocks.
//   - Upserts use INSERT ... ON CONFLICT("key") DO UPDATE, which requires SQLite 3.24+
//     (bundled by modernc).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables runs CREATE TABLE IF NOT EXISTS for every table.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{tx: tx, stmts: map[string]string{}}, nil
}

// Tx is a storage.Tx over *sql.Tx. Statement text is built once per spec.
type Tx struct {
	tx    *sql.Tx
	stmts map[string]string
}

func (t *Tx) Upsert(ctx context.Context, spec storage.UpsertSpec, row []any) error {
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	key := specKey(spec)
	q, ok := t.stmts[key]
	if !ok {
		var err error
		if q, err = buildUpsertSQL(spec); err != nil {
			return err
		}
		t.stmts[key] = q
	}
	if _, err := t.tx.ExecContext(ctx, q, row...); err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", spec.Table, err)
	}
	return nil
}

func (t *Tx) SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]storage.Link, error) {
	rows, err := t.tx.QueryContext(ctx, buildSelectLinksSQL(table, keyColumn, linkColumn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: select links %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.Link
	for rows.Next() {
		var (
			k    int64
			link any
		)
		if err := rows.Scan(&k, &link); err != nil {
			return nil, err
		}
		out = append(out, storage.Link{Key: k, Foreign: link})
	}
	return out, rows.Err()
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

// Rollback is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func specKey(s storage.UpsertSpec) string {
	var b strings.Builder
	b.WriteString(s.Table)
	b.WriteString("|")
	b.WriteString(s.KeyColumn)
	for _, c := range s.Columns {
		b.WriteString("|")
		b.WriteString(c)
		b.WriteString("=")
		b.WriteString(string(s.Action(c)))
	}
	return b.String()
}

func sqliteType(logical string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeReal:
		return "REAL", nil
	case storage.TypeText:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", logical)
	}
}

// buildCreateTableSQL renders CREATE TABLE IF NOT EXISTS. An INTEGER primary
// key becomes the rowid alias; ids are always supplied by the caller.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s: no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		col := sqlIdent(c.Name) + " " + typ
		if c.PrimaryKey {
			col += " PRIMARY KEY"
		} else if c.Nullable != nil && !*c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

// buildUpsertSQL renders
//
//	INSERT INTO "t" (...) VALUES (?, ...)
//	ON CONFLICT("key") DO UPDATE SET "c" = excluded."c", "n" = COALESCE(excluded."n", "t"."n")
//
// FillNull columns swap the COALESCE arguments so the stored value wins.
//
// Preserved columns are left out of the SET list; with nothing to update the
// conflict clause becomes DO NOTHING.
func buildUpsertSQL(spec storage.UpsertSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	table := sqlIdent(spec.Table)
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = sqlIdent(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimRight(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(") ON CONFLICT(")
	b.WriteString(sqlIdent(spec.KeyColumn))
	b.WriteString(") DO ")

	upd := spec.UpdateColumns()
	if len(upd) == 0 {
		b.WriteString("NOTHING")
		return b.String(), nil
	}

	b.WriteString("UPDATE SET ")
	for i, c := range upd {
		if i > 0 {
			b.WriteString(", ")
		}
		col := sqlIdent(c)
		b.WriteString(col)
		b.WriteString(" = ")
		switch spec.Action(c) {
		case storage.Coalesce:
			fmt.Fprintf(&b, "COALESCE(excluded.%s, %s.%s)", col, table, col)
		case storage.FillNull:
			fmt.Fprintf(&b, "COALESCE(%s.%s, excluded.%s)", table, col, col)
		default:
			b.WriteString("excluded.")
			b.WriteString(col)
		}
	}
	return b.String(), nil
}

func buildSelectLinksSQL(table, keyColumn, linkColumn string) string {
	return fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IS NOT NULL ORDER BY %s`,
		sqlIdent(keyColumn), sqlIdent(linkColumn), sqlIdent(table), sqlIdent(linkColumn), sqlIdent(keyColumn))
}
