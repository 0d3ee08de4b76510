// Package diag carries recoverable per-record problems found while resolving,
// projecting and reconciling records. Diagnostics never abort a batch.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the class of problem.
type Kind string

const (
	MissingBase       Kind = "missing_base"
	CyclicBase        Kind = "cyclic_base"
	UnmappedAttribute Kind = "unmapped_attribute"
	CoerceFailed      Kind = "coerce_failed"
	DamageParse       Kind = "damage_parse"
	BadIdentifier     Kind = "bad_identifier"
	SlotFallback      Kind = "slot_fallback"
	NotAnObject       Kind = "not_an_object"
)

// Severity of a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is a single recoverable problem tied to a record and optionally a field.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	RecordID string
	Field    string
	Message  string
}

// New builds a diagnostic with the default severity for its kind.
func New(kind Kind, recordID, field, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: defaultSeverity(kind),
		Kind:     kind,
		RecordID: recordID,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	}
}

func defaultSeverity(k Kind) Severity {
	switch k {
	case SlotFallback:
		return Info
	case BadIdentifier:
		return Error
	default:
		return Warning
	}
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	b.WriteString(" [")
	b.WriteString(string(d.Kind))
	b.WriteString("]")
	if d.RecordID != "" {
		b.WriteString(" id=")
		b.WriteString(d.RecordID)
	}
	if d.Field != "" {
		b.WriteString(" field=")
		b.WriteString(d.Field)
	}
	if d.Message != "" {
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}

// Diagnostics accumulates diagnostics across a stage.
type Diagnostics struct {
	items []Diagnostic
}

func (d *Diagnostics) Add(items ...Diagnostic) {
	d.items = append(d.items, items...)
}

func (d *Diagnostics) Merge(other Diagnostics) {
	d.items = append(d.items, other.items...)
}

func (d *Diagnostics) Len() int { return len(d.items) }

// Items returns diagnostics in the order they were added.
func (d *Diagnostics) Items() []Diagnostic {
	return append([]Diagnostic(nil), d.items...)
}

// ByKind counts diagnostics per kind.
func (d *Diagnostics) ByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, it := range d.items {
		out[it.Kind]++
	}
	return out
}

// Summary renders the per-kind counts as "kind=n" pairs in kind order,
// or "none" when empty.
func (d *Diagnostics) Summary() string {
	counts := d.ByKind()
	if len(counts) == 0 {
		return "none"
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[Kind(k)])
	}
	return strings.Join(parts, " ")
}
