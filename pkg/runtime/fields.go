package runtime

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/address"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// FieldKind selects how a raw configuration value is converted.
type FieldKind int

const (
	// FieldTemplate parses the value into a template.Term of Type.
	FieldTemplate FieldKind = iota
	// FieldAddress parses a string into an address.Address.
	FieldAddress
	// FieldAddressList parses a string or list of strings into addresses.
	FieldAddressList
	// FieldEnum matches a string case-sensitively against Enum.
	FieldEnum
	FieldString
	FieldInt
	FieldFloat
	FieldBool
	// FieldAny keeps structured values and converts strings to the first
	// matching primitive.
	FieldAny
)

// FieldSpec declares one configuration field of a node.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Type      typedesc.Type
	Mandatory bool
	// Default is the literal used when neither the node nor a global
	// configuration provides a value. Nil means no default.
	Default any
	// Argument enables {name} substitution from the job arguments. An empty
	// result disables the field.
	Argument bool
	Enum     []string
	// EnsureFile makes the container create the evaluated path before every
	// execution; a trailing separator ensures a directory instead.
	EnsureFile bool
	// EnsureDir always ensures a directory.
	EnsureDir bool
}

// Bindings holds the converted values of a node's fields.
type Bindings struct {
	values map[string]any
}

func newBindings() *Bindings {
	return &Bindings{values: make(map[string]any)}
}

// Has reports whether name resolved to a value.
func (b *Bindings) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Value returns the bound value of name.
func (b *Bindings) Value(name string) (any, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Term returns a template field, or nil when unset.
func (b *Bindings) Term(name string) template.Term {
	t, _ := b.values[name].(template.Term)
	return t
}

// Address returns an address field.
func (b *Bindings) Address(name string) (address.Address, bool) {
	a, ok := b.values[name].(address.Address)
	return a, ok
}

// Addresses returns an address list field.
func (b *Bindings) Addresses(name string) []address.Address {
	a, _ := b.values[name].([]address.Address)
	return a
}

// String returns a string or enum field.
func (b *Bindings) String(name string) string {
	s, _ := b.values[name].(string)
	return s
}

// Int returns an int field.
func (b *Bindings) Int(name string) int {
	i, _ := b.values[name].(int)
	return i
}

// Float returns a float field.
func (b *Bindings) Float(name string) float64 {
	f, _ := b.values[name].(float64)
	return f
}

// Bool returns a bool field.
func (b *Bindings) Bool(name string) bool {
	v, _ := b.values[name].(bool)
	return v
}

// GlobalConfigurations maps a node type name, or a /regex/ matched against
// the type name, to field overrides.
type GlobalConfigurations map[string]map[string]any

// lookup returns the global value of field for nodeType. An exact type
// entry wins over regex entries; among regex entries the last match in
// sorted key order wins.
func (g GlobalConfigurations) lookup(nodeType, field string) (any, bool, error) {
	if exact, ok := g[nodeType]; ok {
		if v, ok := exact[field]; ok && v != nil {
			return v, true, nil
		}
	}

	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var found any
	var ok bool
	for _, k := range keys {
		if len(k) < 2 || !strings.HasPrefix(k, "/") || !strings.HasSuffix(k, "/") {
			continue
		}
		re, err := regexp.Compile(k[1 : len(k)-1])
		if err != nil {
			return nil, false, derrors.Validation("bad global configuration pattern %s: %v", k, err)
		}
		if !re.MatchString(nodeType) {
			continue
		}
		if v, has := g[k][field]; has && v != nil {
			found, ok = v, true
		}
	}
	return found, ok, nil
}

// ReplaceArguments substitutes {name} and {'prefix'name'suffix'}
// placeholders with argument values. A nil argument removes the placeholder
// together with its prefix and suffix.
func ReplaceArguments(s string, args map[string]any) string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		re := regexp.MustCompile(`\{('(.*?)')?` + regexp.QuoteMeta(name) + `('(.*?)')?\}`)
		v := args[name]
		if v == nil {
			s = re.ReplaceAllString(s, "")
			continue
		}
		value := fmt.Sprint(v)
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			sub := re.FindStringSubmatch(m)
			return sub[2] + value + sub[4]
		})
	}
	return s
}

// bindField resolves and converts one field. A false result means the
// field has no value.
func bindField(spec FieldSpec, raw any, args map[string]any) (any, bool, error) {
	if s, ok := raw.(string); ok && spec.Argument {
		replaced := ReplaceArguments(s, args)
		if replaced == "" {
			return nil, false, nil
		}
		raw = replaced
	}

	switch spec.Kind {
	case FieldTemplate:
		t, err := template.Parse(raw, spec.Type)
		if err != nil {
			return nil, false, err
		}
		return t, true, nil

	case FieldAddress:
		s, ok := raw.(string)
		if !ok {
			return nil, false, derrors.Validation("address must be a string, got %T", raw)
		}
		a, err := address.Parse(s)
		if err != nil {
			return nil, false, err
		}
		return a, true, nil

	case FieldAddressList:
		var items []any
		switch v := raw.(type) {
		case string:
			items = []any{v}
		case []any:
			items = v
		case []string:
			for _, s := range v {
				items = append(items, s)
			}
		default:
			return nil, false, derrors.Validation("address list must be a list of strings, got %T", raw)
		}
		out := make([]address.Address, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, false, derrors.Validation("address must be a string, got %T", it)
			}
			a, err := address.Parse(s)
			if err != nil {
				return nil, false, err
			}
			out = append(out, a)
		}
		return out, true, nil

	case FieldEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, false, derrors.Conversion("enum value must be a string, got %T", raw)
		}
		for _, e := range spec.Enum {
			if e == s {
				return s, true, nil
			}
		}
		return nil, false, derrors.Conversion("%q is not one of %s", s, strings.Join(spec.Enum, ", "))
	}

	v, err := convertPrimitive(raw, spec.Kind, spec.Enum)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}
