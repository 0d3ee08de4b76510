package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"equipdb/internal/record"
	"equipdb/internal/storage"
)

// Row is a fixed-shape typed output record for one table.
//
// A Row is created with the set of columns a stage is authoritative for. Every
// column in that set is always written: unset columns are written as NULL,
// never silently defaulted. Values are normalized to int64, float64 or string
// according to the column type.
type Row struct {
	table *Table
	cols  []string
	vals  map[string]any
}

// NewRow creates a row over columns. The table key is always included as the
// first column.
func (t *Table) NewRow(columns ...string) (*Row, error) {
	if err := t.CheckColumns(columns...); err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(columns)+1)
	cols = append(cols, t.Key())
	seen := map[string]bool{t.Key(): true}
	for _, c := range columns {
		if seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	return &Row{table: t, cols: cols, vals: make(map[string]any, len(cols))}, nil
}

// MustRow is NewRow for column sets fixed at compile time.
func (t *Table) MustRow(columns ...string) *Row {
	r, err := t.NewRow(columns...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Row) Table() *Table     { return r.table }
func (r *Row) Columns() []string { return append([]string(nil), r.cols...) }

// Has reports whether col is part of the row shape.
func (r *Row) Has(col string) bool {
	for _, c := range r.cols {
		if c == col {
			return true
		}
	}
	return false
}

// Get returns the current value, nil when unset.
func (r *Row) Get(col string) any { return r.vals[col] }

// Key returns the primary key value, if set.
func (r *Row) Key() (int64, bool) {
	v, ok := r.vals[r.table.Key()].(int64)
	return v, ok
}

// Set assigns a Go value, converting it to the column type. nil clears the
// column. Setting a column outside the row shape is an error.
func (r *Row) Set(col string, v any) error {
	if !r.Has(col) {
		return fmt.Errorf("schema: column %q not in %s row", col, r.table.Name)
	}
	c, _ := r.table.Column(col)
	if v == nil {
		delete(r.vals, col)
		return nil
	}
	nv, err := normalize(c.Type, v)
	if err != nil {
		return fmt.Errorf("schema: %s.%s: %w", r.table.Name, col, err)
	}
	r.vals[col] = nv
	return nil
}

// SetValue assigns a record value. Composites are accepted only by JSON columns.
func (r *Row) SetValue(col string, v record.Value) error {
	if v.IsNull() {
		return r.Set(col, nil)
	}
	c, ok := r.table.Column(col)
	if ok && c.Type == JSON {
		s, err := v.JSONText()
		if err != nil {
			return err
		}
		return r.Set(col, s)
	}
	if v.IsComposite() {
		return fmt.Errorf("schema: %s.%s: %s value for %s column", r.table.Name, col, v.Kind(), c.Type)
	}
	return r.Set(col, v.Any())
}

// Values returns the values aligned with Columns; unset columns are nil.
func (r *Row) Values() []any {
	out := make([]any, len(r.cols))
	for i, c := range r.cols {
		out[i] = r.vals[c]
	}
	return out
}

// UpsertSpec describes writing this row's shape with the given per-column actions.
func (r *Row) UpsertSpec(actions map[string]storage.ConflictAction) storage.UpsertSpec {
	return storage.UpsertSpec{
		Table:     r.table.Name,
		KeyColumn: r.table.Key(),
		Columns:   r.Columns(),
		Actions:   actions,
	}
}

func normalize(t ColumnType, v any) (any, error) {
	switch t {
	case Integer:
		return toInt(v)
	case Real:
		return toFloat(v)
	case JSON:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		default:
			return fmt.Sprint(v), nil
		}
	}
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("cannot use %T as integer", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot use %T as real", v)
	}
}
