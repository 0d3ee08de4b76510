// Package reconcile joins primary rows to records of a secondary document by a
// foreign id and turns each match into a row fragment for the primary table.
package reconcile

import (
	"strconv"

	"equipdb/internal/diag"
	"equipdb/internal/record"
	"equipdb/internal/schema"
	"equipdb/internal/storage"
)

// Field copies one secondary field into one primary column. List fields
// default to an empty JSON list when absent.
type Field struct {
	Source string
	Column string
	List   bool
}

// WeaponPropertyFields is the fragment shape written from weapon_property.json.
var WeaponPropertyFields = []Field{
	{Source: "id", Column: "weapon_property_id"},
	{Source: "type", Column: "wp_type"},
	{Source: "bullet_ID", Column: "wp_bullet_ids", List: true},
	{Source: "barrage_ID", Column: "wp_barrage_ids", List: true},
	{Source: "range", Column: "wp_range"},
	{Source: "angle", Column: "wp_angle"},
	{Source: "min_range", Column: "wp_min_range"},
	{Source: "auto_aftercast", Column: "wp_auto_aftercast"},
	{Source: "recover_time", Column: "wp_recover_time"},
	{Source: "precast_param", Column: "wp_precast_param", List: true},
	{Source: "damage", Column: "wp_damage"},
	{Source: "oxy_type", Column: "wp_oxy_type", List: true},
	{Source: "expose", Column: "wp_expose"},
	{Source: "fire_fx", Column: "wp_fire_fx"},
	{Source: "fire_sfx", Column: "wp_fire_sfx"},
	{Source: "fire_fx_loop_type", Column: "wp_fire_fx_loop_type"},
}

// AuditColumn receives the full secondary record as JSON text.
const AuditColumn = "weapon_property_json"

// Reconciler builds fragments for one table from one field list.
type Reconciler struct {
	table  *schema.Table
	fields []Field
	audit  string
}

// New checks that every destination exists in table. audit may be empty.
func New(table *schema.Table, fields []Field, audit string) (*Reconciler, error) {
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, f.Column)
	}
	if audit != "" {
		cols = append(cols, audit)
	}
	if err := table.CheckColumns(cols...); err != nil {
		return nil, err
	}
	return &Reconciler{table: table, fields: fields, audit: audit}, nil
}

// WeaponProperty is the reconciler the weapon_property stage uses.
func WeaponProperty() *Reconciler {
	r, err := New(schema.Equipment, WeaponPropertyFields, AuditColumn)
	if err != nil {
		panic(err)
	}
	return r
}

// Columns lists the non-key columns of every fragment.
func (r *Reconciler) Columns() []string {
	out := make([]string, 0, len(r.fields)+1)
	for _, f := range r.fields {
		out = append(out, f.Column)
	}
	if r.audit != "" {
		out = append(out, r.audit)
	}
	return out
}

// Result of one reconcile pass. Every link is counted exactly once in
// Matched, NoForeign or Unmatched.
type Result struct {
	Fragments   []*schema.Row
	Matched     int
	NoForeign   int
	Unmatched   int
	Diagnostics diag.Diagnostics
}

// Reconcile looks up every link's foreign id in secondary. Links without a
// foreign id, or whose id is absent, are counted and skipped; a sparse join is
// expected and produces no diagnostic.
func (r *Reconciler) Reconcile(links []storage.Link, secondary *record.Store) Result {
	var res Result
	for _, l := range links {
		fid := storage.NormalizeKey(l.Foreign)
		if fid == "" {
			res.NoForeign++
			continue
		}
		sec, ok := secondary.Get(fid)
		if !ok {
			res.Unmatched++
			continue
		}
		row, ds := r.fragment(l.Key, sec)
		res.Diagnostics.Add(ds...)
		res.Fragments = append(res.Fragments, row)
		res.Matched++
	}
	return res
}

// fragment never fails as a whole; a field that does not fit its column is
// left NULL with a diagnostic.
func (r *Reconciler) fragment(key int64, sec record.Record) (*schema.Row, []diag.Diagnostic) {
	row := r.table.MustRow(r.Columns()...)
	_ = row.Set(r.table.Key(), key)

	id := strconv.FormatInt(key, 10)
	var ds []diag.Diagnostic
	for _, f := range r.fields {
		v := sec.Get(f.Source)
		if f.List && v.IsNull() {
			v = record.List()
		}
		if err := row.SetValue(f.Column, v); err != nil {
			ds = append(ds, diag.New(diag.CoerceFailed, id, f.Source, "%v", err))
		}
	}
	if r.audit != "" {
		if err := row.SetValue(r.audit, record.Map(sec)); err != nil {
			ds = append(ds, diag.New(diag.CoerceFailed, id, r.audit, "%v", err))
		}
	}
	return row, ds
}
