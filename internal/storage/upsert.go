package storage

import (
	"fmt"
	"strings"
)

// ConflictAction decides what happens to a column when the row already exists.
type ConflictAction string

const (
	// Overwrite replaces the stored value with the incoming one, nulls included.
	Overwrite ConflictAction = "overwrite"
	// Coalesce keeps the stored value when the incoming one is null.
	Coalesce ConflictAction = "coalesce"
	// FillNull writes the incoming value only when the stored one is null.
	FillNull ConflictAction = "fill_null"
	// Preserve never touches the stored value.
	Preserve ConflictAction = "preserve"
)

// ParseConflictAction accepts the lower-case action names; "" means Overwrite.
func ParseConflictAction(s string) (ConflictAction, error) {
	switch ConflictAction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Overwrite:
		return Overwrite, nil
	case Coalesce:
		return Coalesce, nil
	case FillNull:
		return FillNull, nil
	case Preserve:
		return Preserve, nil
	default:
		return "", fmt.Errorf("storage: unknown conflict action %q", s)
	}
}

// UpsertSpec describes one insert-or-update statement.
type UpsertSpec struct {
	Table     string
	KeyColumn string
	// Columns lists every column the row supplies, key included.
	Columns []string
	// Actions overrides the conflict action per column; missing columns overwrite.
	Actions map[string]ConflictAction
}

// Action returns the conflict action for a column.
func (s UpsertSpec) Action(col string) ConflictAction {
	if a, ok := s.Actions[col]; ok && a != "" {
		return a
	}
	return Overwrite
}

// Validate checks the spec shape. Backends call it before building SQL.
func (s UpsertSpec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("storage: upsert: empty table")
	}
	if strings.TrimSpace(s.KeyColumn) == "" {
		return fmt.Errorf("storage: upsert %s: empty key column", s.Table)
	}
	seen := make(map[string]bool, len(s.Columns))
	hasKey := false
	for _, c := range s.Columns {
		if c == "" {
			return fmt.Errorf("storage: upsert %s: empty column name", s.Table)
		}
		if seen[c] {
			return fmt.Errorf("storage: upsert %s: duplicate column %q", s.Table, c)
		}
		seen[c] = true
		if c == s.KeyColumn {
			hasKey = true
		}
	}
	if !hasKey {
		return fmt.Errorf("storage: upsert %s: key column %q not in columns", s.Table, s.KeyColumn)
	}
	for c, a := range s.Actions {
		if !seen[c] {
			return fmt.Errorf("storage: upsert %s: action for unknown column %q", s.Table, c)
		}
		if _, err := ParseConflictAction(string(a)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateColumns lists the non-key columns touched on conflict, in column order.
// An empty result means the statement degrades to insert-if-absent.
func (s UpsertSpec) UpdateColumns() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c == s.KeyColumn || s.Action(c) == Preserve {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CheckRow verifies the row is aligned with the spec columns.
func (s UpsertSpec) CheckRow(row []any) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("storage: upsert %s: row has %d values, want %d", s.Table, len(row), len(s.Columns))
	}
	return nil
}
