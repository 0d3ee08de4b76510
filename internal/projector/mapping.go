package projector

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"equipdb/internal/schema"
)

// FieldRule copies one top-level source field into one destination column.
type FieldRule struct {
	Source string `yaml:"source"`
	Column string `yaml:"column"`
}

// LabelRule maps a label found in the record's label list to a sub_type text.
type LabelRule struct {
	Label   string `yaml:"label"`
	SubType string `yaml:"sub_type"`
}

// Mapping is the immutable projection configuration: attribute names to stat
// columns, direct numeric fields, composite JSON fields and the label table.
//
// Attribute names are matched case-insensitively (Unicode case folding).
type Mapping struct {
	attributes map[string]string
	Direct     []FieldRule
	Composite  []FieldRule
	Labels     []LabelRule
}

// mappingFile is the YAML shape. Entries are merged over the defaults; an empty
// destination removes a default entry.
//
//	attributes:
//	  health: stat_hp
//	direct:
//	  oxy_max: stat_oxy_max
//	composite:
//	  ammo_info: payload
//	labels:
//	  - {label: MG, sub_type: 主炮}
type mappingFile struct {
	Attributes map[string]string `yaml:"attributes"`
	Direct     map[string]string `yaml:"direct"`
	Composite  map[string]string `yaml:"composite"`
	Labels     []LabelRule       `yaml:"labels"`
}

func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// DefaultMapping returns the built-in mapping.
func DefaultMapping() *Mapping {
	return &Mapping{
		attributes: map[string]string{
			"health":        "stat_hp",
			"durability":    "stat_hp",
			"cannon":        "stat_firepower",
			"torpedo":       "stat_torpedo",
			"air":           "stat_aviation",
			"reload":        "stat_reload",
			"antiaircraft":  "stat_antiair",
			"hit":           "stat_hit",
			"dodge":         "stat_evasion",
			"speed":         "stat_speed",
			"luck":          "stat_luck",
			"antisub":       "stat_antisub",
			"oxy_max":       "stat_oxy_max",
			"raid_distance": "stat_raid_distance",
		},
		Direct: []FieldRule{
			{Source: "oxy_max", Column: "stat_oxy_max"},
			{Source: "raid_distance", Column: "stat_raid_distance"},
		},
		Composite: []FieldRule{
			{Source: "ammo_info", Column: "payload"},
			{Source: "part_main", Column: "compatible_ammo"},
			{Source: "ammo_override", Column: "override_ammo_properties"},
			{Source: "equip_parameters", Column: "inherent_modifiers"},
			{Source: "ship_type_forbidden", Column: "forbidden_ship_types"},
			{Source: "equip_info", Column: "enhancement_data"},
		},
		Labels: []LabelRule{
			{Label: "MG", SubType: "主炮"},
			{Label: "TP", SubType: "魚雷"},
		},
	}
}

// LoadMappingFile reads a YAML mapping and merges it over DefaultMapping.
func LoadMappingFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}
	return ParseMapping(data)
}

// ParseMapping parses YAML data and merges it over DefaultMapping.
func ParseMapping(data []byte) (*Mapping, error) {
	var mf mappingFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse mapping YAML: %w", err)
	}

	m := DefaultMapping()
	for attr, col := range mf.Attributes {
		m.SetAttribute(attr, col)
	}
	m.Direct = mergeRules(m.Direct, mf.Direct)
	m.Composite = mergeRules(m.Composite, mf.Composite)
	if len(mf.Labels) > 0 {
		m.Labels = mf.Labels
	}
	return m, nil
}

// mergeRules overrides rules by source; new sources are appended sorted.
func mergeRules(base []FieldRule, over map[string]string) []FieldRule {
	if len(over) == 0 {
		return base
	}
	out := make([]FieldRule, 0, len(base)+len(over))
	for _, r := range base {
		col, ok := over[r.Source]
		if !ok {
			out = append(out, r)
			continue
		}
		if col != "" {
			out = append(out, FieldRule{Source: r.Source, Column: col})
		}
	}

	known := make(map[string]bool, len(base))
	for _, r := range base {
		known[r.Source] = true
	}
	var added []string
	for src, col := range over {
		if !known[src] && col != "" {
			added = append(added, src)
		}
	}
	sort.Strings(added)
	for _, src := range added {
		out = append(out, FieldRule{Source: src, Column: over[src]})
	}
	return out
}

// SetAttribute adds or replaces an attribute mapping; an empty column removes it.
func (m *Mapping) SetAttribute(attr, column string) {
	if m.attributes == nil {
		m.attributes = map[string]string{}
	}
	k := foldKey(attr)
	if column == "" {
		delete(m.attributes, k)
		return
	}
	m.attributes[k] = column
}

// Lookup returns the destination column for an attribute name.
func (m *Mapping) Lookup(attr string) (string, bool) {
	col, ok := m.attributes[foldKey(attr)]
	return col, ok
}

// Attributes returns a copy of the folded attribute table.
func (m *Mapping) Attributes() map[string]string {
	out := make(map[string]string, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = v
	}
	return out
}

// Columns lists every destination column the mapping can write, sorted.
func (m *Mapping) Columns() []string {
	set := map[string]bool{}
	for _, c := range m.attributes {
		set[c] = true
	}
	for _, r := range m.Direct {
		set[r.Column] = true
	}
	for _, r := range m.Composite {
		set[r.Column] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate checks every destination against table. Attribute and direct
// destinations must be numeric columns; composite destinations must be JSON
// or text columns.
func (m *Mapping) Validate(table *schema.Table) error {
	attrs := make([]string, 0, len(m.attributes))
	for a := range m.attributes {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)
	for _, a := range attrs {
		if err := checkColumn(table, m.attributes[a], "attribute "+a, schema.Real, schema.Integer); err != nil {
			return err
		}
	}
	for _, r := range m.Direct {
		if err := checkColumn(table, r.Column, "direct "+r.Source, schema.Real, schema.Integer); err != nil {
			return err
		}
	}
	for _, r := range m.Composite {
		if err := checkColumn(table, r.Column, "composite "+r.Source, schema.JSON, schema.Text); err != nil {
			return err
		}
	}
	for _, l := range m.Labels {
		if l.Label == "" {
			return fmt.Errorf("mapping: label rule with empty label")
		}
	}
	return nil
}

func checkColumn(table *schema.Table, name, what string, allowed ...schema.ColumnType) error {
	c, ok := table.Column(name)
	if !ok {
		return fmt.Errorf("mapping: %s: %s has no column %q", what, table.Name, name)
	}
	if c.PrimaryKey {
		return fmt.Errorf("mapping: %s: cannot write primary key %q", what, name)
	}
	for _, t := range allowed {
		if c.Type == t {
			return nil
		}
	}
	return fmt.Errorf("mapping: %s: column %q is %s", what, name, c.Type)
}
