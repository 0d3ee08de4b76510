package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"equipdb/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Upserts are a single MERGE ... WITH (HOLDLOCK) per row so concurrent writers
// for the same key serialize on the key range instead of racing the insert.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The application
//     must register the "sqlserver" driver elsewhere (internal/storage/all does).
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates missing tables behind an OBJECT_ID guard.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a storage.Tx over a txConn.
type Tx struct {
	tx txConn
}

func (t *Tx) Upsert(ctx context.Context, spec storage.UpsertSpec, row []any) error {
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	q, err := buildMergeSQL(spec)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, q, row...); err != nil {
		return fmt.Errorf("mssql: merge %s: %w", spec.Table, err)
	}
	return nil
}

func (t *Tx) SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]storage.Link, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		mssqlIdent(keyColumn), mssqlIdent(linkColumn), mssqlTableIdent(table), mssqlIdent(linkColumn), mssqlIdent(keyColumn))
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("mssql: select links %s: %w", table, err)
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

func mssqlType(logical string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "FLOAT", nil
	case storage.TypeText:
		return "NVARCHAR(MAX)", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", logical)
	}
}

// buildCreateSQL builds idempotent CREATE TABLE SQL.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}
	typ, err := mssqlType(c.Type)
	if err != nil {
		return "", err
	}
	def := mssqlIdent(c.Name) + " " + typ
	switch {
	case c.PrimaryKey:
		def += " NOT NULL PRIMARY KEY"
	case c.Nullable != nil && !*c.Nullable:
		def += " NOT NULL"
	default:
		def += " NULL"
	}
	return def, nil
}

// buildMergeSQL renders a single-row MERGE:
//
//	MERGE INTO [t] WITH (HOLDLOCK) AS t
//	USING (SELECT @p1 AS [id], @p2 AS [name]) AS s
//	ON t.[id] = s.[id]
//	WHEN MATCHED THEN UPDATE SET t.[name] = COALESCE(s.[name], t.[name])
//	WHEN NOT MATCHED THEN INSERT ([id], [name]) VALUES (s.[id], s.[name]);
//
// With no updatable columns the WHEN MATCHED branch is omitted.
func buildMergeSQL(spec storage.UpsertSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	src := make([]string, len(spec.Columns))
	cols := make([]string, len(spec.Columns))
	vals := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		id := mssqlIdent(c)
		src[i] = fmt.Sprintf("@p%d AS %s", i+1, id)
		cols[i] = id
		vals[i] = "s." + id
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(spec.Table))
	b.WriteString(" WITH (HOLDLOCK) AS t USING (SELECT ")
	b.WriteString(strings.Join(src, ", "))
	b.WriteString(") AS s ON t.")
	b.WriteString(mssqlIdent(spec.KeyColumn))
	b.WriteString(" = s.")
	b.WriteString(mssqlIdent(spec.KeyColumn))

	if upd := spec.UpdateColumns(); len(upd) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range upd {
			if i > 0 {
				b.WriteString(", ")
			}
			id := mssqlIdent(c)
			switch spec.Action(c) {
			case storage.Coalesce:
				fmt.Fprintf(&b, "t.%s = COALESCE(s.%s, t.%s)", id, id, id)
			case storage.FillNull:
				fmt.Fprintf(&b, "t.%s = COALESCE(t.%s, s.%s)", id, id, id)
			default:
				fmt.Fprintf(&b, "t.%s = s.%s", id, id)
			}
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(vals, ", "))
	b.WriteString(");")
	return b.String(), nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.equipment" -> [dbo].[equipment]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
