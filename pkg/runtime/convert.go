package runtime

import (
	"math"
	"strconv"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// NullLiteral converts to a nil value for every field kind. Like the
// boolean literals it matches in any case.
const NullLiteral = "null"

// ConvertString converts s for a field of the given kind. The checks run in
// order: null literal, float, integer, boolean, enum, string. The first one
// applicable to kind decides.
func ConvertString(s string, kind FieldKind, enum []string) (any, error) {
	if strings.EqualFold(s, NullLiteral) {
		return nil, nil
	}

	switch kind {
	case FieldFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, derrors.Conversion("%q is not a float", s)
		}
		return f, nil
	case FieldInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, derrors.Conversion("%q is not an integer", s)
		}
		return int(i), nil
	case FieldBool:
		if b, ok := parseBool(s); ok {
			return b, nil
		}
		return nil, derrors.Conversion("%q is not a boolean", s)
	case FieldEnum:
		for _, e := range enum {
			if e == s {
				return s, nil
			}
		}
		return nil, derrors.Conversion("%q is not a valid enum value", s)
	case FieldString:
		return s, nil
	case FieldAny:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(i), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		if b, ok := parseBool(s); ok {
			return b, nil
		}
		return s, nil
	}
	return nil, derrors.Conversion("no conversion for %q", s)
}

func parseBool(s string) (value, ok bool) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	}
	return false, false
}

// convertPrimitive converts an already structured value, or a string via
// ConvertString, to the representation of kind.
func convertPrimitive(raw any, kind FieldKind, enum []string) (any, error) {
	if s, ok := raw.(string); ok {
		return ConvertString(s, kind, enum)
	}

	switch kind {
	case FieldString:
		switch raw.(type) {
		case bool, int, int64, float64:
			return toString(raw), nil
		}
	case FieldInt:
		if i, ok := typedesc.ToInt64(raw); ok {
			return int(i), nil
		}
		if f, ok := raw.(float64); ok && f == math.Trunc(f) {
			return int(f), nil
		}
	case FieldFloat:
		if f, ok := typedesc.ToFloat64(raw); ok {
			return f, nil
		}
	case FieldBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case FieldAny:
		if i, ok := typedesc.ToInt64(raw); ok {
			return int(i), nil
		}
		return raw, nil
	}
	return nil, derrors.Conversion("cannot convert %v (%T)", raw, raw)
}

func toString(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
