package refset

import (
	"encoding/json"
	"fmt"
)

// KeyFunc derives a stable identity key for an element value. Two values are
// the same element exactly when their keys are equal. Implementations must
// be deterministic.
type KeyFunc func(v any) (string, error)

// Keyer lets a value supply its own identity key, overriding structural
// identity. Collection handles use this to get pointer identity: two
// distinct collections are distinct elements even when their contents are
// momentarily equal.
type Keyer interface {
	IdentityKey() string
}

// JSONKey is the default KeyFunc: a deterministic JSON encoding of the
// value's canonical form. Values implementing Keyer short-circuit to their
// own key.
func JSONKey(v any) (string, error) {
	if k, ok := v.(Keyer); ok {
		return k.IdentityKey(), nil
	}

	canonical, err := toCanonicalForm(v)
	if err != nil {
		return "", newInvariantError("failed to convert value to canonical form", err)
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", newInvariantError("failed to marshal value to JSON", err)
	}

	return string(bytes), nil
}

// toCanonicalForm ensures a deterministic JSON representation, recursively
// processing nested structures while preserving semantics.
func toCanonicalForm(val any) (any, error) {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, newInvariantError(fmt.Sprintf("failed to canonicalize map field '%s'", k), err)
			}
			result[k] = canonical
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, newInvariantError(fmt.Sprintf("failed to canonicalize array element at index %d", i), err)
			}
			result[i] = canonical
		}
		return result, nil

	case int64, float64, string, bool, nil:
		// Primitives are already canonical.
		return v, nil

	default:
		return v, nil
	}
}
