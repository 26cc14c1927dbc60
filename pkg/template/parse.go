package template

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// Parse builds a term from a raw configuration value against the declared
// type. Literal parts must conform to the declared type; a mismatch is a
// validation error.
func Parse(raw any, expected typedesc.Type) (Term, error) {
	switch v := raw.(type) {
	case nil:
		return nil, derrors.Validation("null is not a %s", expected)
	case string:
		return parseString(v, expected)
	case []any:
		return parseList(v, expected)
	case map[string]any:
		return parseMap(v, expected)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return parseList(elems, expected)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			return parseMap(m, expected)
		}
	}
	return parseLiteral(raw, expected)
}

// MustParse is Parse for static templates known to be valid.
func MustParse(raw any, expected typedesc.Type) Term {
	t, err := Parse(raw, expected)
	if err != nil {
		panic(err)
	}
	return t
}

func parseList(elems []any, expected typedesc.Type) (Term, error) {
	if expected.Kind() != typedesc.KindList && expected.Kind() != typedesc.KindAny {
		return nil, derrors.Validation("list literal is not a %s", expected)
	}
	out := &List{typ: expected, Elems: make([]Term, 0, len(elems))}
	if expected.Kind() == typedesc.KindAny {
		out.typ = typedesc.ListOf(typedesc.Any)
	}
	for i, e := range elems {
		t, err := Parse(e, out.typ.Elem())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Elems = append(out.Elems, t)
	}
	return out, nil
}

func parseMap(entries map[string]any, expected typedesc.Type) (Term, error) {
	if expected.Kind() != typedesc.KindMap && expected.Kind() != typedesc.KindAny {
		return nil, derrors.Validation("map literal is not a %s", expected)
	}
	out := &Map{typ: expected, Entries: make(map[string]Term, len(entries))}
	if expected.Kind() == typedesc.KindAny {
		out.typ = typedesc.MapOf(typedesc.Any)
	}
	for k, e := range entries {
		t, err := Parse(e, out.typ.Elem())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out.Entries[k] = t
	}
	return out, nil
}

func parseLiteral(v any, expected typedesc.Type) (Term, error) {
	v = normalize(v, expected)
	if !typedesc.Conforms(v, expected) {
		return nil, derrors.Validation("literal %v (%T) is not a %s", v, v, expected)
	}
	return NewConstant(v, expected), nil
}

// normalize folds integer widths into int and reconciles integral floats
// with declared int types, as produced by JSON decoding.
func normalize(v any, expected typedesc.Type) any {
	switch expected.Kind() {
	case typedesc.KindFloat:
		if f, ok := typedesc.ToFloat64(v); ok {
			return f
		}
	case typedesc.KindInt, typedesc.KindAny:
		if i, ok := typedesc.ToInt64(v); ok {
			return int(i)
		}
		if f, ok := v.(float64); ok && f == math.Trunc(f) && expected.Kind() == typedesc.KindInt {
			return int(f)
		}
	}
	return v
}

func parseString(s string, expected typedesc.Type) (Term, error) {
	if !expected.Accepts(typedesc.String) {
		// Not a string: try it as a structured literal first.
		if decoded, ok := decodeLiteral(s); ok {
			return Parse(decoded, expected)
		}
	}

	nodes, err := newScanner(s).sequence(0)
	if err != nil {
		return nil, derrors.Validation("template %q: %v", s, err)
	}
	if isPlain(nodes) && !expected.Accepts(typedesc.String) {
		return nil, derrors.Validation("literal %q is not a %s", s, expected)
	}

	t, err := compile(nodes, expected)
	if err != nil {
		return nil, derrors.Validation("template %q: %v", s, err)
	}
	return t, nil
}

// decodeLiteral reads s as a JSON literal other than a string. Numbers
// become int when integral and float64 otherwise.
func decodeLiteral(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil || dec.More() {
		return nil, false
	}
	switch decoded.(type) {
	case nil, string:
		return nil, false
	}
	return fromJSON(decoded), true
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
	}
	return v
}

func isPlain(nodes []node) bool {
	for _, n := range nodes {
		if n.placeholder != nil {
			return false
		}
	}
	return true
}

// node is a piece of a scanned string: literal text or a placeholder.
type node struct {
	text        string
	placeholder *placeholder
}

type placeholder struct {
	inner   []node
	lookups [][]node
}

type scanner struct {
	src []rune
	pos int
}

func newScanner(s string) *scanner {
	return &scanner{src: []rune(s)}
}

// sequence scans until the closing rune (0 at top level).
func (sc *scanner) sequence(closing rune) ([]node, error) {
	var nodes []node
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, node{text: text.String()})
			text.Reset()
		}
	}

	for sc.pos < len(sc.src) {
		r := sc.src[sc.pos]
		switch {
		case r == '\\':
			if sc.pos+1 >= len(sc.src) {
				return nil, fmt.Errorf("dangling escape at end")
			}
			text.WriteRune(sc.src[sc.pos+1])
			sc.pos += 2
		case r == closing:
			sc.pos++
			flush()
			return nodes, nil
		case r == '{':
			sc.pos++
			flush()
			ph, err := sc.placeholder()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node{placeholder: ph})
		case r == '}' && closing == 0:
			return nil, fmt.Errorf("unbalanced '}' at %d", sc.pos)
		default:
			text.WriteRune(r)
			sc.pos++
		}
	}
	if closing != 0 {
		return nil, fmt.Errorf("missing %q", closing)
	}
	flush()
	return nodes, nil
}

func (sc *scanner) placeholder() (*placeholder, error) {
	inner, err := sc.sequence('}')
	if err != nil {
		return nil, err
	}
	if len(inner) == 0 {
		return nil, fmt.Errorf("empty placeholder")
	}
	ph := &placeholder{inner: inner}
	for sc.pos < len(sc.src) && sc.src[sc.pos] == '[' {
		sc.pos++
		key, err := sc.sequence(']')
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("empty lookup")
		}
		ph.lookups = append(ph.lookups, key)
	}
	return ph, nil
}

func compile(nodes []node, expected typedesc.Type) (Term, error) {
	switch {
	case len(nodes) == 0:
		return NewConstant("", typedesc.String), nil
	case len(nodes) == 1 && nodes[0].placeholder == nil:
		return NewConstant(nodes[0].text, typedesc.String), nil
	case len(nodes) == 1:
		return compilePlaceholder(nodes[0].placeholder, expected)
	}

	if !expected.Accepts(typedesc.String) {
		return nil, fmt.Errorf("interpolated string is not a %s", expected)
	}
	c := &Concat{}
	for _, n := range nodes {
		if n.placeholder == nil {
			c.Parts = append(c.Parts, NewConstant(n.text, typedesc.String))
			continue
		}
		t, err := compilePlaceholder(n.placeholder, typedesc.Any)
		if err != nil {
			return nil, err
		}
		c.Parts = append(c.Parts, t)
	}
	return c, nil
}

func compilePlaceholder(ph *placeholder, expected typedesc.Type) (Term, error) {
	baseType := expected
	if len(ph.lookups) > 0 {
		baseType = typedesc.Any
	}

	var term Term
	if isPlain(ph.inner) {
		name := joinText(ph.inner)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("blank location")
		}
		term = NewLocation(name, baseType)
	} else {
		key, err := compile(ph.inner, typedesc.Any)
		if err != nil {
			return nil, err
		}
		term = &DynamicLocation{Key: key, typ: baseType}
	}

	for i, lookup := range ph.lookups {
		key, err := compile(lookup, typedesc.Any)
		if err != nil {
			return nil, err
		}
		t := typedesc.Any
		if i == len(ph.lookups)-1 {
			t = expected
		}
		term = &MapLookup{Base: term, Key: key, typ: t}
	}
	return term, nil
}

func joinText(nodes []node) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(n.text)
	}
	return sb.String()
}
