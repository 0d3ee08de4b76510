package storage

// Logical column types. Backends translate them to native types.
const (
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
)

// TableSpec describes one table for EnsureTables.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// ColumnSpec is one column. Exactly one column per table should be PrimaryKey.
type ColumnSpec struct {
	Name       string
	Type       string // TypeInteger | TypeReal | TypeText
	PrimaryKey bool
	Nullable   *bool
}

// PrimaryKey returns the primary key column, if any.
func (t TableSpec) PrimaryKey() (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return ColumnSpec{}, false
}
