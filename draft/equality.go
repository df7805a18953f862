package draft

import (
	"reflect"

	"github.com/delaneyj/draftparty/produce"
)

// EqualityFunc decides whether a selected value changed between snapshots.
type EqualityFunc func(a, b any) bool

// RefEquality compares by reference identity, the default policy.
func RefEquality(a, b any) bool {
	return produce.SameRef(a, b)
}

// ShallowEquality compares maps and slices one level deep, elements by
// reference identity, everything else like RefEquality.
func ShallowEquality(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			o, present := bv[k]
			if !present || !produce.SameRef(e, o) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, e := range av {
			if !produce.SameRef(e, bv[i]) {
				return false
			}
		}
		return true
	default:
		return produce.SameRef(a, b)
	}
}

// DeepEquality compares whole subtrees structurally.
func DeepEquality(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
