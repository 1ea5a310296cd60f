// Package manifest merges and rewrites per-repository build manifests
// (pyproject.toml).
//
// A manifest is held as a plain tree of map[string]any, []any and scalars.
// Merge combines three such trees: a forced layer, the manifest itself, and
// a fallback layer of defaults.
package manifest

import (
	"reflect"
	"sort"
)

type deletion int

// Delete, as a value of the forced layer, removes the key from the target
// (or empties it when the fallback layer still provides it).  It can't be
// confused with any string a manifest may contain.
const Delete = deletion(0)

// IsDelete reports whether v is the Delete marker.
func IsDelete(v any) bool {
	_, ok := v.(deletion)
	return ok
}

// Transform rewrites a value taken from a template layer before it is
// stored in the target.
type Transform func(any) any

func identity(v any) any { return v }

// Merge folds forced and fallback into target, key by key and recursively.
// Precedence is forced, then target, then fallback:
//
//   - a Delete in forced removes the key, or resets it to the empty value of
//     the fallback's shape if fallback has the key;
//   - mappings are merged recursively;
//   - sequences are unioned: missing elements of forced, then of fallback,
//     are inserted at the front, existing elements are kept in place;
//   - scalars take the first truthy value of forced, target, fallback.
//
// transform is applied to every value drawn from forced or fallback, never
// to values already in target.  Merge reports whether target was modified.
// The caller must not use target concurrently while Merge runs.
func Merge(forced, target, fallback map[string]any, transform Transform) bool {
	if transform == nil {
		transform = identity
	}
	changed := false

	for _, k := range unionKeys(forced, target, fallback) {
		va := forced[k]
		vb, hasB := target[k]
		vc, hasC := fallback[k]

		if IsDelete(va) {
			if !hasC {
				if hasB {
					delete(target, k)
					changed = true
				}
				continue
			}
			empty := emptyLike(vc)
			if !hasB || !Equal(vb, empty) {
				target[k] = empty
				changed = true
			}
			continue
		}

		switch {
		case isMap(va) || isMap(vb) || isMap(vc):
			sub, ok := vb.(map[string]any)
			if !ok {
				sub = map[string]any{}
				target[k] = sub
				changed = true
			}
			if Merge(asMap(va), sub, asMap(vc), transform) {
				changed = true
			}

		case isList(va) || isList(vb) || isList(vc):
			seq, ok := vb.([]any)
			if !ok {
				seq = []any{}
				changed = true
			}
			for _, src := range [][]any{asList(va), asList(vc)} {
				for _, v := range src {
					v = transform(v)
					if !contains(seq, v) {
						seq = append([]any{clone(v)}, seq...)
						changed = true
					}
				}
			}
			target[k] = seq

		default:
			if va == nil && !hasC {
				// set by the repository alone
				continue
			}
			v := transform(va)
			if !Truthy(v) {
				if Truthy(vb) {
					v = vb
				} else {
					v = transform(vc)
				}
			}
			if v == nil && !hasB {
				continue
			}
			if !hasB || !Equal(vb, v) {
				target[k] = v
				changed = true
			}
		}
	}
	return changed
}

func unionKeys(layers ...map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, l := range layers {
		for k := range l {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func contains(seq []any, v any) bool {
	for _, x := range seq {
		if Equal(x, v) {
			return true
		}
	}
	return false
}

// emptyLike returns the empty mapping, empty sequence or zero scalar of v's
// shape.
func emptyLike(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any{}
	case []any:
		return []any{}
	case string:
		return ""
	case bool:
		return false
	case float32, float64:
		return float64(0)
	case nil:
		return int64(0)
	default:
		if _, ok := normalize(x).(int64); ok {
			return int64(0)
		}
		return reflect.Zero(reflect.TypeOf(x)).Interface()
	}
}

// Truthy reports whether v counts as set: nil, "", zero numbers, false and
// empty containers don't.
func Truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	}
	return true
}

// normalize maps the numeric kinds produced by different decoders onto
// int64, uint64 and float64.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Equal compares two manifest values, treating numbers of different Go
// kinds but equal value as equal.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case int64:
		if y, ok := b.(uint64); ok {
			return x >= 0 && uint64(x) == y
		}
	case uint64:
		if y, ok := b.(int64); ok {
			return y >= 0 && uint64(y) == x
		}
	}
	return reflect.DeepEqual(a, b)
}

// clone deep-copies containers so that the target never shares structure
// with a template layer.
func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		res := make(map[string]any, len(x))
		for k, w := range x {
			res[k] = clone(w)
		}
		return res
	case []any:
		res := make([]any, len(x))
		for i, w := range x {
			res[i] = clone(w)
		}
		return res
	}
	return v
}
