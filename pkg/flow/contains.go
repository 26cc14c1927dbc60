package flow

import (
	"reflect"

	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// ContainsElements reports whether every entry of expected is present in fm.
// Maps match when every expected key matches. Lists match when every
// expected element matches some actual element; an expected empty list
// matches only an empty list. Used by test tooling.
func (fm *FlowMap) ContainsElements(expected *FlowMap) bool {
	actual := fm.values.snapshot()
	for k, want := range expected.values.snapshot() {
		got, ok := actual[k]
		if !ok || !contains(got, want) {
			return false
		}
	}
	return true
}

func contains(actual, expected any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, ok := a[k]
			if !ok || !contains(av, ev) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok {
			return false
		}
		if len(e) == 0 {
			return len(a) == 0
		}
		for _, ev := range e {
			found := false
			for _, av := range a {
				if contains(av, ev) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return scalarEqual(actual, expected)
}

// scalarEqual treats integers of any width and integral floats as equal
// numbers, since fixtures decoded from JSON carry float64.
func scalarEqual(a, b any) bool {
	if ai, ok := typedesc.ToInt64(a); ok {
		if bi, ok := typedesc.ToInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := typedesc.ToFloat64(a); ok {
		if bf, ok := typedesc.ToFloat64(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
