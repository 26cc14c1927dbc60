// Package template implements the small expression language bound to node
// configuration fields.
//
// A template is parsed once against a declared type and evaluated on every
// execution against a Context, normally a flow map. Strings use placeholder
// syntax:
//
//	{location}            value stored at location
//	{{name}}              value stored at the location named by the value at name
//	{location}[key]       map lookup (or list index) on the value at location
//	text {a} and {b}      string interpolation
//	\{                    literal brace
//
// Lists and maps are parsed element-wise against the declared element type.
package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// Context resolves locations during evaluation.
type Context interface {
	// Lookup returns the value at location checked against want. A missing
	// location is reported as (nil, false, nil).
	Lookup(location string, want typedesc.Type) (any, bool, error)
}

// Term is an immutable, evaluable expression tree.
type Term interface {
	// Eval evaluates the term. An absent result is (nil, false, nil).
	Eval(ctx Context) (any, bool, error)
	// Type is the declared type every result conforms to.
	Type() typedesc.Type
	String() string
}

type identityContext struct{}

func (identityContext) Lookup(string, typedesc.Type) (any, bool, error) { return nil, false, nil }

// Identity is a Context in which every location is absent. Evaluating a term
// against it yields only the constant parts of the term.
var Identity Context = identityContext{}

// Constant is a literal value.
type Constant struct {
	Value any
	typ   typedesc.Type
}

// NewConstant returns a constant of the given declared type.
func NewConstant(v any, t typedesc.Type) *Constant {
	return &Constant{Value: v, typ: t}
}

func (c *Constant) Eval(Context) (any, bool, error) { return c.Value, c.Value != nil, nil }
func (c *Constant) Type() typedesc.Type             { return c.typ }

func (c *Constant) String() string {
	if s, ok := c.Value.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(c.Value)
}

// Location reads a flow key.
type Location struct {
	Name string
	typ  typedesc.Type
}

// NewLocation returns a location term of the given declared type.
func NewLocation(name string, t typedesc.Type) *Location {
	return &Location{Name: name, typ: t}
}

func (l *Location) Eval(ctx Context) (any, bool, error) { return ctx.Lookup(l.Name, l.typ) }
func (l *Location) Type() typedesc.Type                 { return l.typ }
func (l *Location) String() string                      { return "{" + l.Name + "}" }

// DynamicLocation reads the flow key named by the result of Key.
type DynamicLocation struct {
	Key Term
	typ typedesc.Type
}

func (d *DynamicLocation) Eval(ctx Context) (any, bool, error) {
	k, ok, err := d.Key.Eval(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return ctx.Lookup(fmt.Sprint(k), d.typ)
}

func (d *DynamicLocation) Type() typedesc.Type { return d.typ }
func (d *DynamicLocation) String() string      { return "{" + d.Key.String() + "}" }

// List evaluates each element in order. It is absent if any element is.
type List struct {
	Elems []Term
	typ   typedesc.Type
}

func (l *List) Eval(ctx Context) (any, bool, error) {
	out := make([]any, 0, len(l.Elems))
	for _, e := range l.Elems {
		v, ok, err := e.Eval(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (l *List) Type() typedesc.Type { return l.typ }

func (l *List) String() string {
	parts := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Map evaluates each value under its literal key. It is absent if any value is.
type Map struct {
	Entries map[string]Term
	typ     typedesc.Type
}

func (m *Map) Eval(ctx Context) (any, bool, error) {
	out := make(map[string]any, len(m.Entries))
	for k, e := range m.Entries {
		v, ok, err := e.Eval(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		out[k] = v
	}
	return out, true, nil
}

func (m *Map) Type() typedesc.Type { return m.typ }

// Keys returns the literal keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) String() string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + ": " + m.Entries[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MapLookup indexes the result of Base with the result of Key. Maps are
// indexed by key, lists by integer position.
type MapLookup struct {
	Base Term
	Key  Term
	typ  typedesc.Type
}

func (m *MapLookup) Eval(ctx Context) (any, bool, error) {
	base, ok, err := m.Base.Eval(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	key, ok, err := m.Key.Eval(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	var v any
	switch b := base.(type) {
	case map[string]any:
		v, ok = b[fmt.Sprint(key)]
	case []any:
		idx, convErr := toIndex(key)
		if convErr != nil {
			return nil, false, derrors.Template("lookup %s: %v", m, convErr)
		}
		if idx < 0 || idx >= len(b) {
			return nil, false, nil
		}
		v, ok = b[idx], true
	default:
		return nil, false, derrors.Template("lookup %s: value of type %T is not indexable", m, base)
	}
	if !ok || v == nil {
		return nil, false, nil
	}
	if !typedesc.Conforms(v, m.typ) {
		return nil, false, derrors.Template("lookup %s: value %v is not a %s", m, v, m.typ)
	}
	return v, true, nil
}

func (m *MapLookup) Type() typedesc.Type { return m.typ }
func (m *MapLookup) String() string      { return m.Base.String() + "[" + m.Key.String() + "]" }

func toIndex(key any) (int, error) {
	if i, ok := typedesc.ToInt64(key); ok {
		return int(i), nil
	}
	if s, ok := key.(string); ok {
		return strconv.Atoi(s)
	}
	return 0, fmt.Errorf("index %v is not an integer", key)
}

// Concat interpolates its parts into a string.
type Concat struct {
	Parts []Term
}

func (c *Concat) Eval(ctx Context) (any, bool, error) {
	var sb strings.Builder
	for _, p := range c.Parts {
		v, ok, err := p.Eval(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if s, isStr := v.(string); isStr {
			sb.WriteString(s)
		} else {
			sb.WriteString(fmt.Sprint(v))
		}
	}
	return sb.String(), true, nil
}

func (c *Concat) Type() typedesc.Type { return typedesc.String }

func (c *Concat) String() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if k, ok := p.(*Constant); ok {
			sb.WriteString(escape(fmt.Sprint(k.Value)))
			continue
		}
		sb.WriteString(p.String())
	}
	return strconv.Quote(sb.String())
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`)
	return r.Replace(s)
}
