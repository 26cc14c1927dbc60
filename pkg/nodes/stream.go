package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// rangeExpression matches "KEY X TO Y".
var rangeExpression = regexp.MustCompile(`(\w*)\s(\d*) TO (\d*)`)

// StringGenerator emits one flow per integer of an inclusive range. Each
// flow carries the integer at KEY and the evaluated generator string at
// generatedElement.
type StringGenerator struct {
	key       string
	from, to  int
	generated string
}

func (n *StringGenerator) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "generator", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
		{Name: "expression", Kind: runtime.FieldString, Mandatory: true, Argument: true},
		{Name: "generatedElement", Kind: runtime.FieldString, Default: "generated"},
	}
}

func (n *StringGenerator) Bind(b *runtime.Bindings) error {
	expr := b.String("expression")
	m := rangeExpression.FindStringSubmatch(expr)
	if m == nil || m[1] == "" {
		return derrors.Validation("only 'KEY X TO Y' expressions are supported: %q", expr)
	}
	from, err := strconv.Atoi(m[2])
	if err != nil {
		return derrors.Validation("bad range start in %q", expr)
	}
	to, err := strconv.Atoi(m[3])
	if err != nil {
		return derrors.Validation("bad range end in %q", expr)
	}
	n.key, n.from, n.to = m[1], from, to
	n.generated = b.String("generatedElement")
	return nil
}

func (n *StringGenerator) ProcessStream(ctx context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	generator := c.Bindings().Term("generator")
	c.Collect(fm, n.generated, n.key)

	for i := n.from; i <= n.to; i++ {
		child := fm.NewFlow()
		if err := child.Output(n.key, i); err != nil {
			return err
		}
		s, err := child.Eval(generator)
		if err != nil {
			return err
		}
		if err := child.Output(n.generated, fmt.Sprint(s)); err != nil {
			return err
		}
		if err := c.StreamFlowMap(ctx, fm, child); err != nil {
			return err
		}
	}
	return nil
}
