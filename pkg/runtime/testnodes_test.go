package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/address"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/observe"
	"github.com/wehubfusion/Daedalus/pkg/pool"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// markNode appends its name to the "visited" list.
type markNode struct {
	name  string
	value any
}

func (n *markNode) Fields() []FieldSpec {
	return []FieldSpec{
		{Name: "name", Kind: FieldString, Mandatory: true},
		{Name: "value", Kind: FieldAny},
	}
}

func (n *markNode) Bind(b *Bindings) error {
	n.name = b.String("name")
	n.value, _ = b.Value("value")
	return nil
}

func (n *markNode) Modify(_ context.Context, _ *Container, fm *flow.FlowMap) error {
	prev, _ := fm.Get("visited")
	list, _ := prev.([]any)
	fm.Put("visited", append(append([]any{}, list...), n.name))
	if n.value != nil {
		fm.Put(n.name, n.value)
	}
	return nil
}

type failNode struct{}

func (failNode) Fields() []FieldSpec { return nil }
func (failNode) Bind(*Bindings) error { return nil }
func (failNode) Process(context.Context, *Container, *flow.FlowMap) (*flow.FlowMap, error) {
	return nil, errors.New("boom")
}

type forkNode struct {
	target address.Address
	mode   string
}

func (n *forkNode) Fields() []FieldSpec {
	return []FieldSpec{
		{Name: "target", Kind: FieldAddress, Mandatory: true},
		{Name: "mode", Kind: FieldEnum, Enum: []string{"dispatch", "depend"}, Default: "depend"},
	}
}

func (n *forkNode) Bind(b *Bindings) error {
	n.target, _ = b.Address("target")
	n.mode = b.String("mode")
	return nil
}

func (n *forkNode) Process(ctx context.Context, c *Container, fm *flow.FlowMap) (*flow.FlowMap, error) {
	if n.mode == "dispatch" {
		if err := c.ForkDispatch(ctx, fm.Copy(), n.target); err != nil {
			return nil, err
		}
		return c.Forward(ctx, fm)
	}
	out, err := c.ForkDepend(ctx, fm.Copy(), n.target).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := out.Get("visited"); ok {
		fm.Put("forked", v)
	}
	return c.Forward(ctx, fm)
}

type genNode struct {
	count int
	skip  bool
}

func (n *genNode) Fields() []FieldSpec {
	return []FieldSpec{
		{Name: "count", Kind: FieldInt, Default: 3},
		{Name: "skip", Kind: FieldBool, Default: false},
	}
}

func (n *genNode) Bind(b *Bindings) error {
	n.count = b.Int("count")
	n.skip = b.Bool("skip")
	return nil
}

func (n *genNode) ProcessStream(ctx context.Context, c *Container, fm *flow.FlowMap) error {
	c.Collect(fm, "n")
	for i := 0; i < n.count; i++ {
		e := fm.NewFlow()
		if !n.skip {
			e.Put("n", i)
		}
		if err := c.StreamFlowMap(ctx, fm, e); err != nil {
			return err
		}
	}
	return nil
}

// readNode evaluates an int template into "out".
type readNode struct {
	in   any
	path any
}

func (n *readNode) Fields() []FieldSpec {
	return []FieldSpec{
		{Name: "in", Kind: FieldTemplate, Type: typedesc.Int},
		{Name: "path", Kind: FieldTemplate, Type: typedesc.String, EnsureFile: true},
	}
}

func (n *readNode) Bind(b *Bindings) error {
	n.in, _ = b.Value("in")
	return nil
}

func (n *readNode) Modify(_ context.Context, c *Container, fm *flow.FlowMap) error {
	term := c.Bindings().Term("in")
	if term == nil {
		return nil
	}
	v, err := fm.Eval(term)
	if err != nil {
		return err
	}
	fm.Put("out", v)
	return nil
}

type twoShapes struct{ markNode }

func (twoShapes) Process(context.Context, *Container, *flow.FlowMap) (*flow.FlowMap, error) {
	return nil, nil
}

func testFactory() *Factory {
	f := NewFactory()
	f.Register("mark", func() Node { return &markNode{} })
	f.Register("fail", func() Node { return failNode{} })
	f.Register("fork", func() Node { return &forkNode{} })
	f.Register("gen", func() Node { return &genNode{} })
	f.Register("read", func() Node { return &readNode{} })
	f.Register("both", func() Node { return &twoShapes{} })
	return f
}

func newTestJob(t *testing.T, spec JobSpec, mods ...func(*Options)) *Job {
	t.Helper()
	pools := pool.NewRegistry(zap.NewNop())
	t.Cleanup(pools.Close)
	opts := Options{
		Factory:  testFactory(),
		Pools:    pools,
		Logger:   zap.NewNop(),
		Observer: observe.Nop,
	}
	for _, m := range mods {
		m(&opts)
	}
	j, err := NewJob(spec, opts)
	require.NoError(t, err)
	return j
}

func initTestJob(t *testing.T, spec JobSpec, mods ...func(*Options)) *Job {
	t.Helper()
	j := newTestJob(t, spec, mods...)
	require.NoError(t, j.Init())
	return j
}

func single(name string, nodes ...map[string]any) JobSpec {
	return JobSpec{Name: name, Graphs: []GraphSpec{{Name: "g", Nodes: nodes}}}
}

func visited(t *testing.T, fm *flow.FlowMap) []any {
	t.Helper()
	v, ok := fm.Get("visited")
	require.True(t, ok, "flow has no visited list")
	return v.([]any)
}
