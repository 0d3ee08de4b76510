package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"equipdb/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - CREATE TABLE IF NOT EXISTS (plus CREATE SCHEMA for schema-qualified names)
  - INSERT ... ON CONFLICT (key) DO UPDATE upserts with per-column actions
  - one pgx transaction per stage
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pgxpool-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("postgres: create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Upsert(ctx context.Context, spec storage.UpsertSpec, row []any) error {
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	q, err := buildUpsertSQL(spec)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, q, row...); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", spec.Table, err)
	}
	return nil
}

func (t *Tx) SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]storage.Link, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IS NOT NULL ORDER BY %s`,
		pgIdent(keyColumn), pgIdent(linkColumn), pgTableIdent(table), pgIdent(linkColumn), pgIdent(keyColumn))
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: select links %s: %w", table, err)
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

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.equipment" => ("public", "equipment")
//   - "equipment"        => ("", "equipment")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgType(logical string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "DOUBLE PRECISION", nil
	case storage.TypeText:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", logical)
	}
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", "", fmt.Errorf("postgres: table %s: no columns", t.Name)
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := pgType(c.Type)
		if err != nil {
			return "", "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := pgIdent(c.Name) + " " + typ
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		} else if c.Nullable != nil && !*c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// buildUpsertSQL renders
//
//	INSERT INTO "t" AS t (...) VALUES ($1, ...)
//	ON CONFLICT ("key") DO UPDATE SET "c" = EXCLUDED."c", "n" = COALESCE(EXCLUDED."n", t."n")
func buildUpsertSQL(spec storage.UpsertSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(spec.Table))
	b.WriteString(" AS t (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") ON CONFLICT (")
	b.WriteString(pgIdent(spec.KeyColumn))
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
		col := pgIdent(c)
		b.WriteString(col)
		b.WriteString(" = ")
		switch spec.Action(c) {
		case storage.Coalesce:
			fmt.Fprintf(&b, "COALESCE(EXCLUDED.%s, t.%s)", col, col)
		case storage.FillNull:
			fmt.Fprintf(&b, "COALESCE(t.%s, EXCLUDED.%s)", col, col)
		default:
			b.WriteString("EXCLUDED.")
			b.WriteString(col)
		}
	}
	return b.String(), nil
}
