// Package match implements deep partial-object matching between a query
// shape (a pattern) and a Kubernetes resource object.
package match

import "fmt"

// Matches reports whether pattern P structurally matches resource R:
//
//   - if P is a map, every key in P must exist in R with a recursively
//     matching value; extra keys in R are ignored.
//   - if P is a slice, R must be a slice and every element of P must match
//     at least one element of R (existential per pattern element; order
//     and duplicates in R are ignored).
//   - otherwise P and R are compared by scalar equality.
//
// Matches is total: any type mismatch between P and R returns false rather
// than panicking.
func Matches(p, r any) bool {
	switch pv := p.(type) {
	case map[string]any:
		return matchMap(pv, r)

	case map[interface{}]interface{}:
		// gopkg.in/yaml.v2 decodes every nested mapping as
		// map[interface{}]interface{}, not map[string]any, so a pattern
		// read straight off disk hits this case at every level below the
		// top one.
		return matchMap(toStringMap(pv), r)

	case []any:
		rv, ok := r.([]any)
		if !ok {
			return false
		}
		for _, pElem := range pv {
			if !existsMatch(pElem, rv) {
				return false
			}
		}
		return true

	default:
		return scalarEqual(p, r)
	}
}

func matchMap(pv map[string]any, r any) bool {
	rv, ok := r.(map[string]any)
	if !ok {
		return false
	}
	for k, pSub := range pv {
		rSub, present := rv[k]
		if !present {
			return false
		}
		if !Matches(pSub, rSub) {
			return false
		}
	}
	return true
}

// toStringMap converts a yaml.v2-decoded mapping (keyed by interface{}, in
// practice always string for this spec's condition language) to
// map[string]any so it can be matched against an unstructured resource's
// map[string]interface{} fields by key.
func toStringMap(m map[interface{}]interface{}) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprintf("%v", k)] = v
	}
	return out
}

func existsMatch(pElem any, rv []any) bool {
	for _, rElem := range rv {
		if Matches(pElem, rElem) {
			return true
		}
	}
	return false
}

// scalarEqual compares two scalar JSON values: numbers numerically,
// strings by code point, booleans/nulls by identity.
func scalarEqual(p, r any) bool {
	switch pv := p.(type) {
	case nil:
		return r == nil
	case bool:
		rv, ok := r.(bool)
		return ok && pv == rv
	case string:
		rv, ok := r.(string)
		return ok && pv == rv
	case float64:
		rv, ok := toFloat64(r)
		return ok && pv == rv
	case int:
		rv, ok := toFloat64(r)
		return ok && float64(pv) == rv
	case int64:
		rv, ok := toFloat64(r)
		return ok && float64(pv) == rv
	default:
		return p == r
	}
}

// toFloat64 normalizes the handful of numeric representations that show up
// after a YAML or JSON decode (float64, int, int64) to a common type so
// numeric comparisons are not representation-sensitive.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
