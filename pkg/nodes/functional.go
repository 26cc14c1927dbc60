package nodes

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// Echo puts several values at once and removes keys.
type Echo struct {
	remove []string
}

func (n *Echo) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "puts", Kind: runtime.FieldTemplate, Type: typedesc.MapOf(typedesc.Any), Default: map[string]any{}},
		{Name: "remove", Kind: runtime.FieldAny, Default: []any{}, Argument: true},
	}
}

func (n *Echo) Bind(b *runtime.Bindings) error {
	raw, _ := b.Value("remove")
	keys, err := stringList(raw)
	if err != nil {
		return err
	}
	n.remove = keys
	return nil
}

func (n *Echo) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	v, err := fm.Eval(c.Bindings().Term("puts"))
	if err != nil {
		return err
	}
	puts, _ := v.(map[string]any)
	for k, val := range puts {
		fm.Put(k, val)
	}
	for _, k := range n.remove {
		fm.Remove(k)
	}
	return nil
}

// RemoveKey removes the location the "remove" template evaluates to.
type RemoveKey struct{}

func (RemoveKey) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "remove", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
	}
}

func (RemoveKey) Bind(*runtime.Bindings) error { return nil }

func (RemoveKey) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	v, err := fm.Eval(c.Bindings().Term("remove"))
	if err != nil {
		return err
	}
	fm.Remove(fmt.Sprint(v))
	return nil
}

// Sum adds two integers.
type Sum struct {
	result string
}

func (n *Sum) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "integer", Kind: runtime.FieldTemplate, Type: typedesc.Int, Mandatory: true},
		{Name: "integer2", Kind: runtime.FieldTemplate, Type: typedesc.Int, Mandatory: true},
		{Name: "result", Kind: runtime.FieldString, Mandatory: true},
	}
}

func (n *Sum) Bind(b *runtime.Bindings) error {
	n.result = b.String("result")
	return nil
}

func (n *Sum) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	var total int64
	for _, field := range []string{"integer", "integer2"} {
		v, err := fm.Eval(c.Bindings().Term(field))
		if err != nil {
			return err
		}
		i, ok := typedesc.ToInt64(v)
		if !ok {
			return derrors.Template("%s evaluated to %v, not an integer", field, v)
		}
		total += i
	}
	return fm.Output(n.result, int(total))
}

// StringCase converts the case of a string.
type StringCase struct {
	mode   string
	output string
}

const (
	CaseUpper = "UPPER"
	CaseLower = "LOWER"
	CaseTitle = "TITLE"
)

func (n *StringCase) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "input", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
		{Name: "mode", Kind: runtime.FieldEnum, Enum: []string{CaseUpper, CaseLower, CaseTitle}, Default: CaseUpper},
		{Name: "output", Kind: runtime.FieldString, Mandatory: true},
	}
}

func (n *StringCase) Bind(b *runtime.Bindings) error {
	n.mode = b.String("mode")
	n.output = b.String("output")
	return nil
}

// caser returns a fresh Caser; a Caser keeps state and must not be shared
// between goroutines.
func (n *StringCase) caser() cases.Caser {
	switch n.mode {
	case CaseLower:
		return cases.Lower(language.Und)
	case CaseTitle:
		return cases.Title(language.Und)
	}
	return cases.Upper(language.Und)
}

func (n *StringCase) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	v, err := fm.Eval(c.Bindings().Term("input"))
	if err != nil {
		return err
	}
	return fm.Output(n.output, n.caser().String(fmt.Sprint(v)))
}

// EnsureFile makes sure the evaluated path exists before the flow moves on.
// The work is done by the container's ensure-file hook.
type EnsureFile struct{}

func (EnsureFile) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "path", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true, EnsureFile: true},
	}
}

func (EnsureFile) Bind(*runtime.Bindings) error { return nil }

func (EnsureFile) Modify(context.Context, *runtime.Container, *flow.FlowMap) error { return nil }

func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			s, ok := it.(string)
			if !ok {
				return nil, derrors.Validation("expected a list of strings, found %T", it)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, derrors.Validation("expected a list of strings, found %T", raw)
}
