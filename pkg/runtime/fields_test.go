package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

func TestReplaceArguments(t *testing.T) {
	args := map[string]any{"page": 3, "sep": nil, "host": "example.org"}

	tests := []struct {
		in, want string
	}{
		{"https://{host}/list", "https://example.org/list"},
		{"p{'?page='page}", "p?page=3"},
		{"a{'-'page'-'}b", "a-3-b"},
		{"a{'-'sep'-'}b", "ab"},
		{"{unknown}", "{unknown}"},
		{"{page}{page}", "33"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceArguments(tt.in, args), tt.in)
	}
}

func TestConvertString(t *testing.T) {
	enum := []string{"A", "B"}
	tests := []struct {
		in   string
		kind FieldKind
		want any
	}{
		{"null", FieldInt, nil},
		{"1.5", FieldFloat, 1.5},
		{"42", FieldInt, 42},
		{"true", FieldBool, true},
		{"B", FieldEnum, "B"},
		{"x", FieldString, "x"},
		{"7", FieldAny, 7},
		{"7.25", FieldAny, 7.25},
		{"false", FieldAny, false},
		{"word", FieldAny, "word"},
		{"TRUE", FieldBool, true},
		{"falSE", FieldBool, false},
		{"True", FieldAny, true},
		{"NULL", FieldString, nil},
		{"Null", FieldAny, nil},
	}
	for _, tt := range tests {
		got, err := ConvertString(tt.in, tt.kind, enum)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []struct {
		in   string
		kind FieldKind
	}{{"x", FieldInt}, {"1.x", FieldFloat}, {"yes", FieldBool}, {"a", FieldEnum}} {
		_, err := ConvertString(bad.in, bad.kind, enum)
		assert.True(t, derrors.IsConversion(err), bad.in)
	}
}

func TestBindField(t *testing.T) {
	v, ok, err := bindField(FieldSpec{Name: "t", Kind: FieldTemplate, Type: typedesc.Int}, "{x}", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.IsType(t, &template.Location{}, v)

	v, ok, err = bindField(FieldSpec{Name: "l", Kind: FieldAddressList}, []any{"a", "g.b"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v, 2)

	v, ok, err = bindField(FieldSpec{Name: "n", Kind: FieldInt}, 4.0, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok, err = bindField(FieldSpec{Name: "s", Kind: FieldString, Argument: true}, "{gone}", map[string]any{"gone": nil})
	require.NoError(t, err)
	assert.False(t, ok, "empty substitution disables the field")

	_, _, err = bindField(FieldSpec{Name: "e", Kind: FieldEnum, Enum: []string{"A"}}, "a", nil)
	assert.True(t, derrors.IsConversion(err))

	_, _, err = bindField(FieldSpec{Name: "a", Kind: FieldAddress}, 3, nil)
	assert.True(t, derrors.IsValidation(err))
}

func TestLevelThreshold(t *testing.T) {
	tests := []struct {
		threshold Level
		allowed   []Level
	}{
		{LevelTrace, []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError}},
		{LevelDebug, []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}},
		{LevelInfo, []Level{LevelInfo, LevelWarn, LevelError}},
		{LevelWarn, []Level{LevelWarn, LevelError}},
		{LevelError, []Level{LevelError}},
	}
	for _, tt := range tests {
		for _, l := range Levels {
			want := false
			for _, a := range tt.allowed {
				want = want || a == Level(l)
			}
			assert.Equal(t, want, tt.threshold.enabled(Level(l)), "%s at %s", l, tt.threshold)
		}
	}
}

func TestFactory(t *testing.T) {
	f := testFactory()
	assert.True(t, f.HasCreator("mark"))
	assert.Equal(t, []string{"both", "fail", "fork", "gen", "mark", "read"}, f.RegisteredTypes())

	_, shape, err := f.Create("gen")
	require.NoError(t, err)
	assert.Equal(t, ShapeStream, shape)

	assert.True(t, f.Unregister("gen"))
	assert.False(t, f.Unregister("gen"))
	_, _, err = f.Create("gen")
	assert.True(t, derrors.IsValidation(err))
}
