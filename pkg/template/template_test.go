package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

type mapContext map[string]any

func (m mapContext) Lookup(location string, want typedesc.Type) (any, bool, error) {
	v, ok := m[location]
	if !ok {
		return nil, false, nil
	}
	if !typedesc.Conforms(v, want) {
		return nil, false, derrors.Template("bad typing at %q", location)
	}
	return v, true, nil
}

func TestParseAndEval(t *testing.T) {
	ctx := mapContext{
		"i":     2,
		"name":  "world",
		"key":   "name",
		"pages": map[string]any{"a": "first", "2": "second"},
		"list":  []any{"x", "y"},
	}

	tests := []struct {
		name     string
		raw      any
		expected typedesc.Type
		want     any
		absent   bool
	}{
		{name: "constant string", raw: "hello", expected: typedesc.String, want: "hello"},
		{name: "location", raw: "{name}", expected: typedesc.String, want: "world"},
		{name: "interpolation", raw: "page={i}", expected: typedesc.String, want: "page=2"},
		{name: "multiple placeholders", raw: "{name}-{i}-{name}", expected: typedesc.String, want: "world-2-world"},
		{name: "dynamic location", raw: "{{key}}", expected: typedesc.String, want: "world"},
		{name: "map lookup", raw: "{pages}[a]", expected: typedesc.String, want: "first"},
		{name: "map lookup with template key", raw: "{pages}[{i}]", expected: typedesc.String, want: "second"},
		{name: "list index", raw: "{list}[1]", expected: typedesc.String, want: "y"},
		{name: "list index out of range", raw: "{list}[5]", expected: typedesc.String, absent: true},
		{name: "escaped brace", raw: `\{name\}`, expected: typedesc.String, want: "{name}"},
		{name: "missing location", raw: "{nope}", expected: typedesc.String, absent: true},
		{name: "interpolation with missing", raw: "a{nope}", expected: typedesc.String, absent: true},
		{name: "int literal", raw: 5, expected: typedesc.Int, want: 5},
		{name: "int from string", raw: "5", expected: typedesc.Int, want: 5},
		{name: "float widening", raw: 5, expected: typedesc.Float, want: 5.0},
		{name: "bool from string", raw: "true", expected: typedesc.Bool, want: true},
		{name: "list of templates", raw: []any{"{name}", "lit"}, expected: typedesc.ListOf(typedesc.String), want: []any{"world", "lit"}},
		{name: "map of templates", raw: map[string]any{"x": 1, "who": "{name}"}, expected: typedesc.MapOf(typedesc.Any), want: map[string]any{"x": 1, "who": "world"}},
		{name: "json map literal", raw: `{"x": 1}`, expected: typedesc.MapOf(typedesc.Any), want: map[string]any{"x": 1}},
		{name: "json list literal", raw: `["y"]`, expected: typedesc.ListOf(typedesc.String), want: []any{"y"}},
		{name: "list from location", raw: "{list}", expected: typedesc.ListOf(typedesc.String), want: []any{"x", "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, err := Parse(tt.raw, tt.expected)
			require.NoError(t, err)
			got, ok, err := term.Eval(ctx)
			require.NoError(t, err)
			if tt.absent {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsMismatchedLiterals(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		expected typedesc.Type
	}{
		{"string for int", "abc", typedesc.Int},
		{"list for string", []any{"a"}, typedesc.String},
		{"map for list", map[string]any{}, typedesc.ListOf(typedesc.Any)},
		{"wrong element", []any{"a", 1}, typedesc.ListOf(typedesc.Int)},
		{"interpolation for int", "a{b}", typedesc.Int},
		{"unbalanced", "a}", typedesc.String},
		{"unterminated", "{a", typedesc.String},
		{"empty placeholder", "{}", typedesc.String},
		{"null", nil, typedesc.String},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, tt.expected)
			require.Error(t, err)
			assert.True(t, derrors.IsValidation(err))
		})
	}
}

func TestEvalTypeConflict(t *testing.T) {
	term := MustParse("{name}", typedesc.Int)
	_, _, err := term.Eval(mapContext{"name": "x"})
	assert.True(t, derrors.IsTemplate(err))

	lookup := MustParse("{m}[a]", typedesc.Int)
	_, _, err = lookup.Eval(mapContext{"m": map[string]any{"a": "x"}})
	assert.True(t, derrors.IsTemplate(err))

	_, _, err = lookup.Eval(mapContext{"m": 3})
	assert.True(t, derrors.IsTemplate(err))
}

func TestIdentityEvaluation(t *testing.T) {
	v, ok, err := MustParse([]any{"a", "b"}, typedesc.ListOf(typedesc.String)).Eval(Identity)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	_, ok, err = MustParse("{a}", typedesc.String).Eval(Identity)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTermString(t *testing.T) {
	assert.Equal(t, "{a}", MustParse("{a}", typedesc.Any).String())
	assert.Equal(t, "{m}[{k}]", MustParse("{m}[{k}]", typedesc.Any).String())
	assert.Equal(t, `"page={i}"`, MustParse("page={i}", typedesc.String).String())
}
