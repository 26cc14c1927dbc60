// Package typedesc describes the runtime shape of values held in a flow.
//
// A Type is a closed, recursively defined descriptor: a primitive, a list
// of some element type, a string-keyed map of some value type, or an opaque
// named type for anything else. Any is the top of the lattice.
package typedesc

import (
	"fmt"
	"reflect"
	"strings"
)

// Kind enumerates the descriptor variants.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindBool
	KindInt
	KindFloat
	KindList
	KindMap
	KindOpaque
)

// Type is an immutable type descriptor. The zero value is Any.
type Type struct {
	kind Kind
	elem *Type
	name string
}

var (
	Any    = Type{kind: KindAny}
	String = Type{kind: KindString}
	Bool   = Type{kind: KindBool}
	Int    = Type{kind: KindInt}
	Float  = Type{kind: KindFloat}
)

// ListOf returns the descriptor of a list with the given element type.
func ListOf(elem Type) Type {
	return Type{kind: KindList, elem: &elem}
}

// MapOf returns the descriptor of a string-keyed map with the given value type.
func MapOf(elem Type) Type {
	return Type{kind: KindMap, elem: &elem}
}

// Opaque returns the descriptor of a value known only by its runtime name.
func Opaque(name string) Type {
	return Type{kind: KindOpaque, name: name}
}

// Kind returns the variant of t.
func (t Type) Kind() Kind { return t.kind }

// Elem returns the element type of a list or map, and Any otherwise.
func (t Type) Elem() Type {
	if t.elem == nil {
		return Any
	}
	return *t.elem
}

// IsCollection reports whether t is a list or a map.
func (t Type) IsCollection() bool {
	return t.kind == KindList || t.kind == KindMap
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case KindList, KindMap:
		return t.Elem().Equal(o.Elem())
	case KindOpaque:
		return t.name == o.name
	}
	return true
}

// Accepts reports whether a value of type o may be used where t is expected,
// that is whether t is a supertype of or equal to o.
func (t Type) Accepts(o Type) bool {
	switch t.kind {
	case KindAny:
		return true
	case KindList, KindMap:
		return o.kind == t.kind && t.Elem().Accepts(o.Elem())
	case KindOpaque:
		return o.kind == KindOpaque && o.name == t.name
	}
	return t.kind == o.kind
}

func (t Type) String() string {
	switch t.kind {
	case KindAny:
		return "any"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindList:
		return "list<" + t.Elem().String() + ">"
	case KindMap:
		return "map<" + t.Elem().String() + ">"
	case KindOpaque:
		return t.name
	}
	return "unknown"
}

// Unify returns the single type describing both a and b. Any unifies with
// anything, collections unify element-wise, everything else must be equal.
func Unify(a, b Type) (Type, error) {
	switch {
	case a.kind == KindAny:
		return b, nil
	case b.kind == KindAny:
		return a, nil
	case a.kind != b.kind:
		return Any, fmt.Errorf("cannot unify %s with %s", a, b)
	}
	switch a.kind {
	case KindList, KindMap:
		elem, err := Unify(a.Elem(), b.Elem())
		if err != nil {
			return Any, fmt.Errorf("cannot unify %s with %s: %w", a, b, err)
		}
		if a.kind == KindList {
			return ListOf(elem), nil
		}
		return MapOf(elem), nil
	case KindOpaque:
		if a.name != b.name {
			return Any, fmt.Errorf("cannot unify %s with %s", a, b)
		}
	}
	return a, nil
}

// Infer derives the descriptor of v by structural descent. Lists and maps
// must hold mutually unifiable elements; an empty collection has element
// type Any. A nil value is Any.
func Infer(v any) (Type, error) {
	switch x := v.(type) {
	case nil:
		return Any, nil
	case string:
		return String, nil
	case bool:
		return Bool, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Int, nil
	case float32, float64:
		return Float, nil
	case []any:
		elem := Any
		for i, e := range x {
			et, err := Infer(e)
			if err != nil {
				return Any, err
			}
			if elem, err = Unify(elem, et); err != nil {
				return Any, fmt.Errorf("list element %d: %w", i, err)
			}
		}
		return ListOf(elem), nil
	case map[string]any:
		elem := Any
		for k, e := range x {
			et, err := Infer(e)
			if err != nil {
				return Any, err
			}
			if elem, err = Unify(elem, et); err != nil {
				return Any, fmt.Errorf("map value %q: %w", k, err)
			}
		}
		return MapOf(elem), nil
	}
	return inferReflect(reflect.ValueOf(v))
}

func inferReflect(rv reflect.Value) (Type, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elem := Any
		for i := 0; i < rv.Len(); i++ {
			et, err := Infer(rv.Index(i).Interface())
			if err != nil {
				return Any, err
			}
			if elem, err = Unify(elem, et); err != nil {
				return Any, fmt.Errorf("list element %d: %w", i, err)
			}
		}
		return ListOf(elem), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Opaque(rv.Type().String()), nil
		}
		elem := Any
		iter := rv.MapRange()
		for iter.Next() {
			et, err := Infer(iter.Value().Interface())
			if err != nil {
				return Any, err
			}
			if elem, err = Unify(elem, et); err != nil {
				return Any, fmt.Errorf("map value %q: %w", iter.Key().String(), err)
			}
		}
		return MapOf(elem), nil
	}
	return Opaque(rv.Type().String()), nil
}

// Conforms reports whether the value v can be used where t is expected.
// Unlike Infer followed by Accepts, an empty collection conforms to every
// collection type of its kind.
func Conforms(v any, t Type) bool {
	if t.kind == KindAny {
		return true
	}
	if v == nil {
		return false
	}
	switch t.kind {
	case KindList:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if !Conforms(rv.Index(i).Interface(), t.Elem()) {
				return false
			}
		}
		return true
	case KindMap:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return false
		}
		iter := rv.MapRange()
		for iter.Next() {
			if !Conforms(iter.Value().Interface(), t.Elem()) {
				return false
			}
		}
		return true
	}
	it, err := Infer(v)
	return err == nil && t.Accepts(it)
}

// Parse reads a declared type such as "string", "list<int>" or "map<any>".
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "any", "":
		return Any, nil
	case "string":
		return String, nil
	case "bool":
		return Bool, nil
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	}
	for prefix, ctor := range map[string]func(Type) Type{"list<": ListOf, "map<": MapOf} {
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ">") {
			elem, err := Parse(s[len(prefix) : len(s)-1])
			if err != nil {
				return Any, err
			}
			return ctor(elem), nil
		}
	}
	return Any, fmt.Errorf("unknown type %q", s)
}

// ToInt64 converts any integer value to int64.
func ToInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

// ToFloat64 converts any integer or floating point value to float64.
func ToFloat64(v any) (float64, bool) {
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
