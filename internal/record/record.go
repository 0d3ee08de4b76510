package record

import "encoding/json"

// Record is one source record: field name -> value. Records owned by a Store
// are never mutated; use Clone before changing fields.
type Record map[string]Value

// Get returns the field value, or Null when the field is absent.
func (r Record) Get(field string) Value {
	if r == nil {
		return Null
	}
	return r[field]
}

// Has reports whether the field is present and not null.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && !v.IsNull()
}

// Clone returns a shallow copy. Values are immutable, so a shallow copy is
// independent of the original.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Overlay returns base with every field of r applied on top of it.
func (r Record) Overlay(base Record) Record {
	out := make(Record, len(base)+len(r))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MarshalJSON serializes the record as an object with sorted keys.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(Map(map[string]Value(r)))
}

// FromMap converts a decoded JSON object into a Record.
func FromMap(m map[string]any) Record {
	out := make(Record, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}
