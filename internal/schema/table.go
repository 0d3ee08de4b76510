// Package schema defines the relational target: the tables the pipeline writes,
// their typed columns, and Row, the fixed-shape typed output record.
package schema

import (
	"fmt"

	"equipdb/internal/storage"
)

// ColumnType is the logical type of a column. JSON columns hold serialized
// composites and are stored as text.
type ColumnType string

const (
	Integer ColumnType = "INTEGER"
	Real    ColumnType = "REAL"
	Text    ColumnType = "TEXT"
	JSON    ColumnType = "JSON"
)

type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
}

// Table is an ordered column list with exactly one primary key.
type Table struct {
	Name    string
	Columns []Column

	index map[string]int
}

// NewTable builds a Table. The first column is the primary key.
func NewTable(name string, cols ...Column) *Table {
	t := &Table{Name: name, Columns: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		t.index[c.Name] = i
	}
	if len(cols) > 0 {
		t.Columns[0].PrimaryKey = true
	}
	return t
}

func (t *Table) Key() string { return t.Columns[0].Name }

func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnNames returns all column names in table order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ToSpec converts the table for storage.Repository.EnsureTables.
func (t *Table) ToSpec() storage.TableSpec {
	spec := storage.TableSpec{Name: t.Name, Columns: make([]storage.ColumnSpec, len(t.Columns))}
	for i, c := range t.Columns {
		spec.Columns[i] = storage.ColumnSpec{
			Name:       c.Name,
			Type:       storageType(c.Type),
			PrimaryKey: c.PrimaryKey,
		}
	}
	return spec
}

func storageType(t ColumnType) string {
	switch t {
	case Integer:
		return storage.TypeInteger
	case Real:
		return storage.TypeReal
	default:
		return storage.TypeText
	}
}

// Specs converts several tables at once.
func Specs(tables ...*Table) []storage.TableSpec {
	out := make([]storage.TableSpec, len(tables))
	for i, t := range tables {
		out[i] = t.ToSpec()
	}
	return out
}

// CheckColumns reports the first name that is not a column of t.
func (t *Table) CheckColumns(names ...string) error {
	for _, n := range names {
		if !t.Has(n) {
			return fmt.Errorf("schema: %s has no column %q", t.Name, n)
		}
	}
	return nil
}
