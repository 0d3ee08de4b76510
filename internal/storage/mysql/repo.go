package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"equipdb/internal/storage"
)

// Repo implements storage.Repository for MySQL / MariaDB.
//
// Upserts use INSERT ... ON DUPLICATE KEY UPDATE with VALUES(col), which both
// MySQL 5.7+ and MariaDB accept.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mysql", New)
}

// New parses cfg.DSN with the driver's own parser, forces utf8mb4 unless a
// charset is given, and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := configFromDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func configFromDSN(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if !strings.Contains(dsn, "charset=") {
		if err := mc.Apply(mysql.Charset("utf8mb4", "")); err != nil {
			return nil, fmt.Errorf("mysql: charset: %w", err)
		}
	}
	return mc, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mysql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mysql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Upsert(ctx context.Context, spec storage.UpsertSpec, row []any) error {
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	q, err := buildUpsertSQL(spec)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, q, row...); err != nil {
		return fmt.Errorf("mysql: upsert %s: %w", spec.Table, err)
	}
	return nil
}

func (t *Tx) SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]storage.Link, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		myIdent(keyColumn), myIdent(linkColumn), myTableIdent(table), myIdent(linkColumn), myIdent(keyColumn))
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("mysql: select links %s: %w", table, err)
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

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func myIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// myTableIdent quotes "db.table" as `db`.`table`.
func myTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = myIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func myType(logical string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "DOUBLE", nil
	case storage.TypeText:
		return "LONGTEXT", nil
	default:
		return "", fmt.Errorf("mysql: unsupported column type %q", logical)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mysql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mysql: table %s: no columns", t.Name)
	}
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := myType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := myIdent(c.Name) + " " + typ
		switch {
		case c.PrimaryKey:
			def += " NOT NULL PRIMARY KEY"
		case c.Nullable != nil && !*c.Nullable:
			def += " NOT NULL"
		default:
			def += " NULL"
		}
		parts = append(parts, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) DEFAULT CHARSET=utf8mb4",
		myTableIdent(t.Name), strings.Join(parts, ", ")), nil
}

// buildUpsertSQL renders
//
//	INSERT INTO `t` (...) VALUES (?, ...)
//	ON DUPLICATE KEY UPDATE `c` = VALUES(`c`), `n` = COALESCE(VALUES(`n`), `n`)
//
// With nothing to update the key is assigned to itself, which keeps the
// statement insert-if-absent without INSERT IGNORE swallowing other errors.
func buildUpsertSQL(spec storage.UpsertSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = myIdent(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myTableIdent(spec.Table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimRight(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(") ON DUPLICATE KEY UPDATE ")

	upd := spec.UpdateColumns()
	if len(upd) == 0 {
		key := myIdent(spec.KeyColumn)
		b.WriteString(key + " = " + key)
		return b.String(), nil
	}
	for i, c := range upd {
		if i > 0 {
			b.WriteString(", ")
		}
		id := myIdent(c)
		switch spec.Action(c) {
		case storage.Coalesce:
			fmt.Fprintf(&b, "%s = COALESCE(VALUES(%s), %s)", id, id, id)
		case storage.FillNull:
			fmt.Fprintf(&b, "%s = COALESCE(%s, VALUES(%s))", id, id, id)
		default:
			fmt.Fprintf(&b, "%s = VALUES(%s)", id, id)
		}
	}
	return b.String(), nil
}
