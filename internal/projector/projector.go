// Package projector turns a flattened equipment record into a typed equipment
// row: identity and classification fields, positional attribute/value slots
// mapped to stat columns, direct numeric fields, the damage string and
// composite fields serialized as JSON text.
//
// A projection never fails because of one field. Field problems become
// diagnostics and leave the column NULL (or at its earlier value); only an
// unreadable identifier rejects the record.
package projector

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"equipdb/internal/diag"
	"equipdb/internal/record"
	"equipdb/internal/schema"
)

// ErrBadIdentifier is returned when neither the id field nor the record key is
// an integer.
var ErrBadIdentifier = errors.New("bad record identifier")

// DefaultSlots is the number of attribute_i/value_i pairs in the source data.
const DefaultSlots = 3

// HealthAttribute names the attribute the slot-1 fallback assigns to.
const HealthAttribute = "health"

// Columns written from fixed source fields, independent of the mapping.
var baseColumns = []string{
	"name", "equipment_type", "rarity", "faction", "weapon_id",
	"sub_type", "base_damage_initial", "volley_count", "stat_bonus",
}

type Options struct {
	// Slots is N in attribute_1..attribute_N. Zero means DefaultSlots.
	Slots int
	// HealthFallback assigns value_1 to the health column when attribute_1 is
	// absent and nothing else set that column.
	HealthFallback bool
}

// Projector is safe for concurrent use once built.
type Projector struct {
	table   *schema.Table
	mapping *Mapping
	slots   int
	health  bool
	columns []string
}

// New validates the mapping against the equipment table and builds a Projector.
func New(m *Mapping, opts Options) (*Projector, error) {
	if m == nil {
		m = DefaultMapping()
	}
	if err := m.Validate(schema.Equipment); err != nil {
		return nil, err
	}
	if opts.Slots < 0 {
		return nil, fmt.Errorf("projector: slots must be >= 0, got %d", opts.Slots)
	}
	if opts.Slots == 0 {
		opts.Slots = DefaultSlots
	}

	cols := append([]string(nil), baseColumns...)
	seen := map[string]bool{}
	for _, c := range cols {
		seen[c] = true
	}
	for _, c := range m.Columns() {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}

	return &Projector{
		table:   schema.Equipment,
		mapping: m,
		slots:   opts.Slots,
		health:  opts.HealthFallback,
		columns: cols,
	}, nil
}

// Columns is the set of non-key columns every projected row carries.
func (p *Projector) Columns() []string { return append([]string(nil), p.columns...) }

// Slot is one decoded attribute/value pair. Index is 1-based.
type Slot struct {
	Index     int
	Attribute record.Value
	Value     record.Value
}

// Slots decodes attribute_1..attribute_n / value_1..value_n in index order.
func Slots(r record.Record, n int) []Slot {
	out := make([]Slot, n)
	for i := 1; i <= n; i++ {
		out[i-1] = Slot{
			Index:     i,
			Attribute: r.Get("attribute_" + strconv.Itoa(i)),
			Value:     r.Get("value_" + strconv.Itoa(i)),
		}
	}
	return out
}

// Project builds the equipment row for one merged record. key is the record's
// id in its source document.
func (p *Projector) Project(key string, merged record.Record) (*schema.Row, []diag.Diagnostic, error) {
	id, err := Identifier(key, merged)
	if err != nil {
		d := diag.New(diag.BadIdentifier, key, "id", "%v", err)
		return nil, []diag.Diagnostic{d}, err
	}

	row, err := p.table.NewRow(p.columns...)
	if err != nil {
		return nil, nil, err
	}
	pr := &projection{row: row, id: strconv.FormatInt(id, 10)}
	pr.set("id", id)

	pr.text("name", merged.Get("name"))
	pr.text("equipment_type", merged.Get("type"))
	pr.text("rarity", merged.Get("rarity"))
	pr.text("faction", merged.Get("nationality"))
	pr.weaponID(merged.Get("weapon_id"))
	pr.subType(merged.Get("label"), p.mapping.Labels)
	pr.damage(merged.Get("damage"))

	slots := Slots(merged, p.slots)
	pr.statBonus(slots)
	p.assignSlots(pr, slots)
	if p.health {
		p.healthFallback(pr, slots)
	}

	for _, r := range p.mapping.Direct {
		v := merged.Get(r.Source)
		if v.IsNull() {
			continue
		}
		pr.number(r.Column, r.Source, v)
	}
	for _, r := range p.mapping.Composite {
		v := merged.Get(r.Source)
		if v.IsNull() {
			continue
		}
		if err := row.SetValue(r.Column, v); err != nil {
			pr.warn(diag.CoerceFailed, r.Source, "%v", err)
		}
	}

	return row, pr.diags, nil
}

// assignSlots applies slots in ascending index order, so a later index
// overrides an earlier one mapped to the same column. Zero magnitudes are
// assigned like any other value.
func (p *Projector) assignSlots(pr *projection, slots []Slot) {
	for _, s := range slots {
		name, ok := attributeName(s.Attribute)
		if !ok || s.Value.IsNull() {
			continue
		}
		col, ok := p.mapping.Lookup(name)
		if !ok {
			pr.warn(diag.UnmappedAttribute, fmt.Sprintf("attribute_%d", s.Index),
				"attribute %q has no destination column", name)
			continue
		}
		pr.number(col, fmt.Sprintf("value_%d", s.Index), s.Value)
	}
}

// healthFallback: slot 1 with a value but no attribute name means health.
// Only slot 1 carries this meaning.
func (p *Projector) healthFallback(pr *projection, slots []Slot) {
	if len(slots) == 0 {
		return
	}
	s := slots[0]
	if _, named := attributeName(s.Attribute); named || s.Value.IsNull() {
		return
	}
	col, ok := p.mapping.Lookup(HealthAttribute)
	if !ok || pr.row.Get(col) != nil {
		return
	}
	if pr.number(col, "value_1", s.Value) {
		pr.add(diag.New(diag.SlotFallback, pr.id, "value_1",
			"attribute_1 absent, value_1 assigned to %s", col))
	}
}

func attributeName(v record.Value) (string, bool) {
	if v.IsNull() || v.IsComposite() {
		return "", false
	}
	s := strings.TrimSpace(v.String())
	return s, s != ""
}

// Identifier resolves the integer id: the id field when present, else key.
func Identifier(key string, r record.Record) (int64, error) {
	v := r.Get("id")
	if v.IsNull() {
		v = record.Text(key)
	}
	switch v.Kind() {
	case record.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case record.KindReal:
		f, _ := v.AsFloat()
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), nil
		}
	case record.KindText:
		s, _ := v.AsText()
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (key %q)", ErrBadIdentifier, v.String(), key)
}

// CoerceNumber applies the source magnitude rule: text containing '.' parses as
// real, other text as integer; numeric values pass through as real.
func CoerceNumber(v record.Value) (any, error) {
	switch v.Kind() {
	case record.KindInt, record.KindReal:
		f, _ := v.AsFloat()
		return f, nil
	case record.KindText:
		s, _ := v.AsText()
		s = strings.TrimSpace(s)
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a real", s)
			}
			return f, nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("%s value is not numeric", v.Kind())
	}
}

// ParseDamage splits "<int>x<int>" into base damage and volley count. Parts
// after the second "x" are ignored. A numeric damage is a single volley.
func ParseDamage(v record.Value) (base float64, volley int64, err error) {
	switch v.Kind() {
	case record.KindInt, record.KindReal:
		f, _ := v.AsFloat()
		return f, 1, nil
	case record.KindText:
		s, _ := v.AsText()
		parts := strings.Split(s, "x")
		if len(parts) < 2 {
			return 0, 0, fmt.Errorf("damage %q is not of the form <int>x<int>", s)
		}
		b, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		n, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, fmt.Errorf("damage %q is not of the form <int>x<int>", s)
		}
		return float64(b), n, nil
	default:
		return 0, 0, fmt.Errorf("damage has unsupported %s value", v.Kind())
	}
}

// projection is the per-record scratch state. A fresh one is made per record.
type projection struct {
	row   *schema.Row
	id    string
	diags []diag.Diagnostic
}

func (pr *projection) add(d diag.Diagnostic) { pr.diags = append(pr.diags, d) }

func (pr *projection) warn(kind diag.Kind, field, format string, args ...any) {
	pr.add(diag.New(kind, pr.id, field, format, args...))
}

func (pr *projection) set(col string, v any) bool {
	if err := pr.row.Set(col, v); err != nil {
		pr.warn(diag.CoerceFailed, col, "%v", err)
		return false
	}
	return true
}

func (pr *projection) text(col string, v record.Value) {
	if v.IsNull() {
		return
	}
	pr.set(col, v.String())
}

// number coerces v and assigns it. On failure nothing is assigned and a
// coerce_failed diagnostic names the source field: the column stays null unless
// a lower slot already set it, in which case that earlier value is kept rather
// than cleared.
func (pr *projection) number(col, field string, v record.Value) bool {
	n, err := CoerceNumber(v)
	if err != nil {
		pr.warn(diag.CoerceFailed, field, "%v", err)
		return false
	}
	return pr.set(col, n)
}

func (pr *projection) weaponID(v record.Value) {
	first, ok := v.First()
	if !ok || first.IsNull() {
		return
	}
	switch first.Kind() {
	case record.KindInt, record.KindReal, record.KindText:
		if err := pr.row.Set("weapon_id", first.Any()); err != nil {
			pr.warn(diag.CoerceFailed, "weapon_id", "%v", err)
		}
	default:
		pr.warn(diag.CoerceFailed, "weapon_id", "%s value is not an id", first.Kind())
	}
}

func (pr *projection) subType(labels record.Value, rules []LabelRule) {
	for _, r := range rules {
		if labels.Contains(r.Label) {
			pr.set("sub_type", r.SubType)
			return
		}
	}
}

func (pr *projection) damage(v record.Value) {
	if v.IsNull() {
		return
	}
	base, volley, err := ParseDamage(v)
	if err != nil {
		pr.warn(diag.DamageParse, "damage", "%v", err)
		return
	}
	pr.set("base_damage_initial", base)
	pr.set("volley_count", volley)
}

// statBonus keeps the raw value_i fields as one JSON object for audit.
func (pr *projection) statBonus(slots []Slot) {
	raw := map[string]record.Value{}
	for _, s := range slots {
		if !s.Value.IsNull() {
			raw["value_"+strconv.Itoa(s.Index)] = s.Value
		}
	}
	if len(raw) == 0 {
		return
	}
	if err := pr.row.SetValue("stat_bonus", record.Map(raw)); err != nil {
		pr.warn(diag.CoerceFailed, "stat_bonus", "%v", err)
	}
}
