// Package nodetest runs a single node against an input flow and checks the
// result for expected entries.
package nodetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/pool"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// Case describes one node run.
type Case struct {
	// Node is the raw node configuration including its type.
	Node map[string]any
	// Graphs are additional graphs the node may address.
	Graphs    []runtime.GraphSpec
	Arguments map[string]any
	Input     map[string]any
	// Expected entries must be contained in the output. Lists and maps are
	// compared element by element.
	Expected map[string]any
	// Unexpected keys must be absent from the output.
	Unexpected []string
	WantErr    bool
}

// Job builds and initializes a job named "test" whose entry graph holds
// only the node of c.
func Job(t testing.TB, factory *runtime.Factory, c Case) *runtime.Job {
	t.Helper()
	pools := pool.NewRegistry(zaptest.NewLogger(t))
	t.Cleanup(pools.Close)

	spec := runtime.JobSpec{
		Name:      "test",
		Graphs:    append([]runtime.GraphSpec{{Name: "node", Nodes: []map[string]any{c.Node}}}, c.Graphs...),
		Arguments: c.Arguments,
	}
	j, err := runtime.NewJob(spec, runtime.Options{
		Factory: factory,
		Pools:   pools,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, j.Init())
	return j
}

// Run executes c and returns the output flow, or nil when an error was
// expected.
func Run(t testing.TB, factory *runtime.Factory, c Case) *flow.FlowMap {
	t.Helper()
	j := Job(t, factory, c)

	in, err := flow.FromMap(c.Input, flow.WithLogger(j.Logger()))
	require.NoError(t, err)

	out, err := j.Entry().Accept(context.Background(), in)
	if c.WantErr {
		require.Error(t, err)
		return nil
	}
	require.NoError(t, err)

	expected, err := flow.FromMap(c.Expected)
	require.NoError(t, err)
	require.True(t, out.ContainsElements(expected),
		"output %v does not contain %v", out.Snapshot(), c.Expected)
	for _, k := range c.Unexpected {
		_, ok := out.Get(k)
		require.False(t, ok, "output still contains %q", k)
	}
	return out
}
