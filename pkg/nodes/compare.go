package nodes

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// Comparison operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "notEquals"
	OpGreaterThan    = "greaterThan"
	OpLessThan       = "lessThan"
	OpGreaterOrEqual = "greaterOrEqual"
	OpLessOrEqual    = "lessOrEqual"
	OpContains       = "contains"
	OpStartsWith     = "startsWith"
	OpEndsWith       = "endsWith"
	OpRegex          = "regex"
	OpIn             = "in"
	OpIsEmpty        = "isEmpty"
)

var operators = []string{
	OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
	OpContains, OpStartsWith, OpEndsWith, OpRegex, OpIn, OpIsEmpty,
}

// Compare writes the boolean outcome of comparing left with right. It is
// usually followed by an IfThenElseNode reading the result.
type Compare struct {
	operator        string
	caseInsensitive bool
	output          string
	re              *regexp.Regexp
}

func (n *Compare) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "left", Kind: runtime.FieldTemplate, Type: typedesc.Any, Mandatory: true},
		{Name: "operator", Kind: runtime.FieldEnum, Enum: operators, Default: OpEquals},
		{Name: "right", Kind: runtime.FieldTemplate, Type: typedesc.Any},
		{Name: "caseInsensitive", Kind: runtime.FieldBool, Default: false},
		{Name: "output", Kind: runtime.FieldString, Default: "result"},
	}
}

func (n *Compare) Bind(b *runtime.Bindings) error {
	n.operator = b.String("operator")
	n.caseInsensitive = b.Bool("caseInsensitive")
	n.output = b.String("output")
	if n.operator != OpIsEmpty && !b.Has("right") {
		return derrors.Validation("operator %s needs a right operand", n.operator)
	}
	if n.operator == OpRegex {
		if k, ok := b.Term("right").(*template.Constant); ok {
			re, err := regexp.Compile(fmt.Sprint(k.Value))
			if err != nil {
				return derrors.NewError(derrors.KindValidation, fmt.Sprintf("invalid regex %v", k.Value), err)
			}
			n.re = re
		}
	}
	return nil
}

func (n *Compare) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	b := c.Bindings()
	left, err := fm.Eval(b.Term("left"))
	if err != nil {
		return err
	}
	var right any
	if b.Has("right") {
		if right, err = fm.Eval(b.Term("right")); err != nil {
			return err
		}
	}

	ok, err := n.compare(left, right)
	if err != nil {
		return err
	}
	return fm.Output(n.output, ok)
}

func (n *Compare) compare(left, right any) (bool, error) {
	switch n.operator {
	case OpEquals:
		return n.equal(left, right), nil
	case OpNotEquals:
		return !n.equal(left, right), nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		l, err := toFloat(left)
		if err != nil {
			return false, err
		}
		r, err := toFloat(right)
		if err != nil {
			return false, err
		}
		switch n.operator {
		case OpGreaterThan:
			return l > r, nil
		case OpLessThan:
			return l < r, nil
		case OpGreaterOrEqual:
			return l >= r, nil
		}
		return l <= r, nil
	case OpContains, OpStartsWith, OpEndsWith:
		l, r := n.fold(fmt.Sprint(left)), n.fold(fmt.Sprint(right))
		switch n.operator {
		case OpContains:
			return strings.Contains(l, r), nil
		case OpStartsWith:
			return strings.HasPrefix(l, r), nil
		}
		return strings.HasSuffix(l, r), nil
	case OpRegex:
		re := n.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(fmt.Sprint(right)); err != nil {
				return false, derrors.Node("invalid regex", err)
			}
		}
		return re.MatchString(fmt.Sprint(left)), nil
	case OpIn:
		list, ok := right.([]any)
		if !ok {
			return false, derrors.Node(fmt.Sprintf("operator in needs a list, got %T", right), nil)
		}
		for _, e := range list {
			if n.equal(left, e) {
				return true, nil
			}
		}
		return false, nil
	case OpIsEmpty:
		return isEmpty(left), nil
	}
	return false, derrors.Node("unsupported operator "+n.operator, nil)
}

func (n *Compare) fold(s string) string {
	if n.caseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

// equal compares numbers by value and everything else structurally.
func (n *Compare) equal(a, b any) bool {
	if af, err := toFloat(a); err == nil {
		if bf, err := toFloat(b); err == nil {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return n.fold(as) == n.fold(bs)
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, derrors.Conversion("%q is not a number", x)
		}
		return f, nil
	}
	return 0, derrors.Conversion("%v (%T) is not a number", v, v)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
