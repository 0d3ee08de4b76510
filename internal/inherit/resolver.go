// Package inherit flattens base-reference chains: a record's "base" field names
// another record in the same store whose fields it inherits and overrides.
package inherit

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	gocache "github.com/patrickmn/go-cache"

	"equipdb/internal/diag"
	"equipdb/internal/record"
)

// BaseField is the field holding the id of a record's base.
const BaseField = "base"

// ErrNotFound is returned when the requested id is not in the store.
var ErrNotFound = errors.New("record not found")

// Result is one flattened record.
type Result struct {
	Record record.Record
	// Chain lists the ids that were merged, most-derived first. It stops at the
	// first id served from the arena, or before a missing or cyclic base.
	Chain       []string
	Diagnostics []diag.Diagnostic
}

// Resolver resolves ids against one store. Results of acyclic chains are kept
// in an arena together with their diagnostics, so shared bases are merged once
// per run and every resolution of an id reports the same diagnostics.
//
// A Resolver is not safe for concurrent use by multiple goroutines.
type Resolver struct {
	store *record.Store
	arena *gocache.Cache
}

// entry is one arena slot.
type entry struct {
	rec   record.Record
	diags []diag.Diagnostic
}

func New(store *record.Store) *Resolver {
	return &Resolver{
		store: store,
		arena: gocache.New(gocache.NoExpiration, 0),
	}
}

// Resolve returns merge(resolve(base(id)), raw(id)) with own fields winning.
//
// Edge cases:
//   - id absent from the store: ErrNotFound.
//   - a base that is absent from the store: the referring record keeps its own
//     fields only and a missing_base diagnostic is returned.
//   - a base already visited in this chain: treated like an absent base, with a
//     cyclic_base diagnostic. Chains that contain a cycle are not kept in the arena.
//
// The returned record is a fresh map; mutating it does not affect the store.
func (r *Resolver) Resolve(id string) (Result, error) {
	if _, ok := r.store.Get(id); !ok {
		return Result{}, fmt.Errorf("inherit: %q: %w", id, ErrNotFound)
	}

	var (
		res     Result
		visited = map[string]bool{}
		acc     record.Record
		cyclic  bool
	)

	cur := id
	for {
		if cached, ok := r.arena.Get(cur); ok {
			e := cached.(entry)
			acc = e.rec
			res.Diagnostics = append(res.Diagnostics, e.diags...)
			break
		}
		if visited[cur] {
			from := res.Chain[len(res.Chain)-1]
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.CyclicBase, from, BaseField,
				"cyclic base reference to %q, using fields from %q down", cur, from))
			cyclic = true
			break
		}
		own, ok := r.store.Get(cur)
		if !ok {
			from := res.Chain[len(res.Chain)-1]
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.MissingBase, from, BaseField,
				"missing base %q, using own fields only", cur))
			break
		}

		visited[cur] = true
		res.Chain = append(res.Chain, cur)

		next, ok := BaseID(own.Get(BaseField))
		if !ok {
			break
		}
		cur = next
	}

	for i := len(res.Chain) - 1; i >= 0; i-- {
		own, _ := r.store.Get(res.Chain[i])
		if acc == nil {
			acc = own.Clone()
		} else {
			acc = own.Overlay(acc)
		}
		if !cyclic {
			e := entry{rec: acc, diags: append([]diag.Diagnostic(nil), res.Diagnostics...)}
			r.arena.Set(res.Chain[i], e, gocache.NoExpiration)
		}
	}

	res.Record = acc.Clone()
	return res, nil
}

// BaseID turns a base field value into a store id. Null, empty text, zero and
// composite values mean "no base".
func BaseID(v record.Value) (string, bool) {
	switch v.Kind() {
	case record.KindText:
		s, _ := v.AsText()
		return s, s != ""
	case record.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10), i != 0
	case record.KindReal:
		f, _ := v.AsFloat()
		if f == 0 {
			return "", false
		}
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10), true
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	default:
		return "", false
	}
}
