// Package record models loosely-typed source records: a tagged Value variant, the
// Record field map built from it, and the ordered Store a document loads into.
//
// Accessors never panic on a kind mismatch. They return an ok=false signal so the
// projection code can treat "absent" and "wrong shape" uniformly.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind tags the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindText
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged variant. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null is the absent/null value.
var Null = Value{}

func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Real(f float64) Value   { return Value{kind: KindReal, f: f} }
func Text(s string) Value    { return Value{kind: KindText, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// FromAny converts a decoded JSON tree into a Value.
//
// Numbers decoded with json.Decoder.UseNumber keep their integer form when they
// fit in int64; everything else numeric becomes real.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, err := t.Float64()
		if err != nil {
			return Text(t.String())
		}
		return Real(f)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t))
		}
		return Real(t)
	case float32:
		return FromAny(float64(t))
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return Text(t)
	case []any:
		out := make([]Value, len(t))
		for i := range t {
			out[i] = FromAny(t[i])
		}
		return List(out...)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Map(out)
	default:
		return Text(fmt.Sprint(v))
	}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindReal }

// IsComposite reports whether v is a list or a map.
func (v Value) IsComposite() bool { return v.kind == KindList || v.kind == KindMap }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns the numeric value of an int or real.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindReal:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value(nil), v.list...), true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	out := make(map[string]Value, len(v.m))
	for k, e := range v.m {
		out[k] = e
	}
	return out, true
}

// Len is the element count of a list or map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// First returns the first element of a list. A non-list, non-null value is
// returned as its own first element.
func (v Value) First() (Value, bool) {
	switch v.kind {
	case KindNull:
		return Null, false
	case KindList:
		if len(v.list) == 0 {
			return Null, false
		}
		return v.list[0], true
	default:
		return v, true
	}
}

// Contains reports whether a list holds a text element equal to s.
func (v Value) Contains(s string) bool {
	for _, e := range v.list {
		if t, ok := e.AsText(); ok && t == s {
			return true
		}
	}
	return false
}

// Truthy follows the source data convention: null, false, 0, "" and empty
// containers are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindReal:
		return v.f != 0
	case KindText:
		return v.s != ""
	default:
		return v.Len() > 0
	}
}

// String renders scalars the way they appear in the source document; composites
// render as JSON text.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Any converts v back to a plain Go tree (nil, bool, int64, float64, string,
// []any, map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON writes the value verbatim. Map keys are sorted so serialized
// audit blobs are stable across runs.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			eb, err := json.Marshal(v.m[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, eb...)
		}
		return append(buf, '}'), nil
	default:
		return json.Marshal(v.Any())
	}
}

// JSONText serializes v to compact JSON text.
func (v Value) JSONText() (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
