package nodes

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/address"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// Pipe evaluates each target in order, threading the flow through them,
// and then forwards.
type Pipe struct {
	targets []address.Address
}

func (n *Pipe) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "pipeTargets", Kind: runtime.FieldAddressList, Mandatory: true},
	}
}

func (n *Pipe) Bind(b *runtime.Bindings) error {
	n.targets = b.Addresses("pipeTargets")
	return nil
}

func (n *Pipe) Init(c *runtime.Container) error {
	for _, a := range n.targets {
		if _, err := c.Resolve(a); err != nil {
			return err
		}
	}
	return nil
}

func (n *Pipe) Process(ctx context.Context, c *runtime.Container, fm *flow.FlowMap) (*flow.FlowMap, error) {
	out := fm
	for _, a := range n.targets {
		next, err := c.Eval(ctx, out, a)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return c.Forward(ctx, out)
}

// MapJoin forks the map target once per list element and joins the
// configured keys of every branch into lists on the original flow.
type MapJoin struct {
	keys       map[string]string
	target     address.Address
	putElement string
	distinct   bool
}

func (n *MapJoin) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "keys", Kind: runtime.FieldAny, Mandatory: true},
		{Name: "list", Kind: runtime.FieldTemplate, Type: typedesc.ListOf(typedesc.Any), Mandatory: true},
		{Name: "mapTarget", Kind: runtime.FieldAddress, Mandatory: true},
		{Name: "putElement", Kind: runtime.FieldString, Default: "element"},
		{Name: "distinct", Kind: runtime.FieldBool, Default: false},
	}
}

func (n *MapJoin) Bind(b *runtime.Bindings) error {
	raw, _ := b.Value("keys")
	m, ok := raw.(map[string]any)
	if !ok {
		return derrors.Validation("keys must map forked keys to join keys, found %T", raw)
	}
	n.keys = make(map[string]string, len(m))
	for forked, join := range m {
		s, ok := join.(string)
		if !ok {
			return derrors.Validation("join key for %q must be a string, found %T", forked, join)
		}
		n.keys[forked] = s
	}
	n.target, _ = b.Address("mapTarget")
	n.putElement = b.String("putElement")
	n.distinct = b.Bool("distinct")
	return nil
}

func (n *MapJoin) Init(c *runtime.Container) error {
	_, err := c.Resolve(n.target)
	return err
}

func (n *MapJoin) Process(ctx context.Context, c *runtime.Container, fm *flow.FlowMap) (*flow.FlowMap, error) {
	v, err := fm.Eval(c.Bindings().Term("list"))
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	if n.distinct {
		list = distinct(list)
	}

	futures := make([]*runtime.Future, 0, len(list))
	for _, element := range list {
		branch := fm.Copy()
		if err := branch.Output(n.putElement, element); err != nil {
			return nil, err
		}
		futures = append(futures, c.ForkDepend(ctx, branch, n.target))
	}

	results, err := runtime.JoinAll(ctx, futures)
	if err != nil {
		return nil, derrors.Node("map branch failed", err)
	}

	forkedKeys := make([]string, 0, len(n.keys))
	for k := range n.keys {
		forkedKeys = append(forkedKeys, k)
	}
	sort.Strings(forkedKeys)

	for _, forked := range forkedKeys {
		join := n.keys[forked]
		c.Log(runtime.LevelTrace, "joining", zap.String("forked", forked), zap.String("join", join))

		joined := make([]any, 0, len(results))
		for _, r := range results {
			val, ok := r.Get(forked)
			if !ok || val == nil {
				return nil, derrors.Node(fmt.Sprintf("missing value at join key %s", forked), nil)
			}
			joined = append(joined, val)
		}
		fm.Put(join, joined)
	}

	return c.Forward(ctx, fm)
}

// distinct keeps the first occurrence of every element.
func distinct(list []any) []any {
	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, v := range list {
		k := fmt.Sprintf("%T:%v", v, v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// IfThenElse evaluates the true or false target depending on a boolean
// condition, then forwards.
type IfThenElse struct {
	trueTarget  *address.Address
	falseTarget *address.Address
}

func (n *IfThenElse) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "condition", Kind: runtime.FieldTemplate, Type: typedesc.Bool, Mandatory: true},
		{Name: "trueTarget", Kind: runtime.FieldAddress},
		{Name: "falseTarget", Kind: runtime.FieldAddress},
	}
}

func (n *IfThenElse) Bind(b *runtime.Bindings) error {
	if a, ok := b.Address("trueTarget"); ok {
		n.trueTarget = &a
	}
	if a, ok := b.Address("falseTarget"); ok {
		n.falseTarget = &a
	}
	return nil
}

func (n *IfThenElse) Init(c *runtime.Container) error {
	for _, a := range []*address.Address{n.trueTarget, n.falseTarget} {
		if a == nil {
			continue
		}
		if _, err := c.Resolve(*a); err != nil {
			return err
		}
	}
	return nil
}

func (n *IfThenElse) Process(ctx context.Context, c *runtime.Container, fm *flow.FlowMap) (*flow.FlowMap, error) {
	v, err := fm.Eval(c.Bindings().Term("condition"))
	if err != nil {
		return nil, err
	}
	cond, ok := v.(bool)
	if !ok {
		return nil, derrors.Template("condition evaluated to %v, not a boolean", v)
	}

	target := n.falseTarget
	if cond {
		target = n.trueTarget
	}
	c.Log(runtime.LevelDebug, "condition evaluated", zap.Bool("condition", cond))

	out := fm
	if target != nil {
		if out, err = c.Eval(ctx, fm, *target); err != nil {
			return nil, err
		}
	}
	return c.Forward(ctx, out)
}
