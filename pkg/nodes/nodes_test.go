package nodes_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/nodetest"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

func graph(name string, nodes ...map[string]any) runtime.GraphSpec {
	return runtime.GraphSpec{Name: name, Nodes: nodes}
}

func TestEcho(t *testing.T) {
	out := nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:       map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"x": 1}, "remove": []any{"y"}},
		Input:      map[string]any{"y": 5},
		Expected:   map[string]any{"x": 1},
		Unexpected: []string{"y"},
	})
	assert.Equal(t, map[string]any{"x": 1}, out.Snapshot())
}

func TestEchoDefaultsAndArguments(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:       map[string]any{"type": nodes.TypeEcho, "remove": "{key}"},
		Input:      map[string]any{"a": 1, "b": 2},
		Arguments:  map[string]any{"key": "a"},
		Expected:   map[string]any{"b": 2},
		Unexpected: []string{"a"},
	})
}

func TestRemoveKey(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:       map[string]any{"type": nodes.TypeRemoveKey, "remove": "{k}"},
		Input:      map[string]any{"k": "a", "a": 1},
		Expected:   map[string]any{"k": "a"},
		Unexpected: []string{"a"},
	})
}

func TestSum(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     map[string]any{"type": nodes.TypeSum, "integer": "{a}", "integer2": 5, "result": "s"},
		Input:    map[string]any{"a": 3},
		Expected: map[string]any{"s": 8},
	})

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:    map[string]any{"type": nodes.TypeSum, "integer": "{a}", "integer2": 5, "result": "s"},
		Input:   map[string]any{"a": "three"},
		WantErr: true,
	})
}

func TestStringGenerator(t *testing.T) {
	out := nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node: map[string]any{
			"type":       nodes.TypeStringGenerator,
			"generator":  "page={i}",
			"expression": "i 2 TO 4",
		},
		Input: map[string]any{},
		Expected: map[string]any{
			"generated": []any{"page=2", "page=3", "page=4"},
			"i":         []any{2, 3, 4},
		},
	})
	generated, _ := out.Get("generated")
	assert.Equal(t, []any{"page=2", "page=3", "page=4"}, generated)
}

func TestStringGeneratorRejectsExpression(t *testing.T) {
	j, err := runtime.NewJob(runtime.JobSpec{Name: "j", Graphs: []runtime.GraphSpec{
		graph("g", map[string]any{"type": nodes.TypeStringGenerator, "generator": "x", "expression": "from 1 to 2"}),
	}}, runtime.Options{Factory: nodes.DefaultFactory(), Logger: zap.NewNop()})
	require.NoError(t, err)
	err = j.Init()
	assert.True(t, derrors.IsValidation(err))
	assert.Contains(t, err.Error(), "KEY X TO Y")
}

func TestMapJoin(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node: map[string]any{
			"type":      nodes.TypeMapJoin,
			"keys":      map[string]any{"v": "joined"},
			"list":      "{items}",
			"mapTarget": "branch",
		},
		Graphs:   []runtime.GraphSpec{graph("branch", map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"v": "{element}"}})},
		Input:    map[string]any{"items": []any{"v1", "v2", "v3"}},
		Expected: map[string]any{"joined": []any{"v1", "v2", "v3"}, "items": []any{"v1", "v2", "v3"}},
	})
}

func TestMapJoinDistinctAndEmpty(t *testing.T) {
	branch := []runtime.GraphSpec{graph("branch", map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"v": "{element}"}})}
	node := map[string]any{
		"type":      nodes.TypeMapJoin,
		"keys":      map[string]any{"v": "joined"},
		"list":      "{items}",
		"mapTarget": "branch",
		"distinct":  true,
	}

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     node,
		Graphs:   branch,
		Input:    map[string]any{"items": []any{"a", "a", "b"}},
		Expected: map[string]any{"joined": []any{"a", "b"}},
	})

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     node,
		Graphs:   branch,
		Input:    map[string]any{"items": []any{}},
		Expected: map[string]any{"joined": []any{}},
	})
}

func TestMapJoinMissingJoinKey(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node: map[string]any{
			"type":      nodes.TypeMapJoin,
			"keys":      map[string]any{"v": "joined"},
			"list":      "{items}",
			"mapTarget": "branch",
		},
		Graphs: []runtime.GraphSpec{graph("branch", map[string]any{
			"type":   nodes.TypeScript,
			"script": `flow.element === "v2" ? undefined : flow.element`,
			"output": "v",
		})},
		Input:   map[string]any{"items": []any{"v1", "v2", "v3"}},
		WantErr: true,
	})
}

func TestPipe(t *testing.T) {
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node: map[string]any{"type": nodes.TypePipe, "pipeTargets": []any{"p1", "p2"}},
		Graphs: []runtime.GraphSpec{
			graph("p1", map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"a": 1}}),
			graph("p2", map[string]any{"type": nodes.TypeSum, "integer": "{a}", "integer2": 1, "result": "b"}),
		},
		Input:    map[string]any{},
		Expected: map[string]any{"a": 1, "b": 2},
	})
}

func TestIfThenElse(t *testing.T) {
	node := map[string]any{"type": nodes.TypeIfThenElse, "condition": "{flag}", "trueTarget": "yes", "falseTarget": "no"}
	graphs := []runtime.GraphSpec{
		graph("yes", map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"branch": "yes"}}),
		graph("no", map[string]any{"type": nodes.TypeEcho, "puts": map[string]any{"branch": "no"}}),
	}

	for flag, want := range map[bool]string{true: "yes", false: "no"} {
		nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
			Node:     node,
			Graphs:   graphs,
			Input:    map[string]any{"flag": flag},
			Expected: map[string]any{"branch": want},
		})
	}

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:       map[string]any{"type": nodes.TypeIfThenElse, "condition": "{flag}"},
		Input:      map[string]any{"flag": true},
		Expected:   map[string]any{"flag": true},
		Unexpected: []string{"branch"},
	})
}

func TestStringCase(t *testing.T) {
	tests := []struct {
		mode, want string
	}{
		{nodes.CaseUpper, "HELLO WORLD"},
		{nodes.CaseLower, "hello world"},
		{nodes.CaseTitle, "Hello World"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
				Node:     map[string]any{"type": nodes.TypeStringCase, "input": "{s}", "mode": tt.mode, "output": "out"},
				Input:    map[string]any{"s": "hEllo wOrld"},
				Expected: map[string]any{"out": tt.want},
			})
		})
	}
}

func TestScript(t *testing.T) {
	out := nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     map[string]any{"type": nodes.TypeScript, "script": "flow.a * 2"},
		Input:    map[string]any{"a": 4},
		Expected: map[string]any{"result": 8},
	})
	v, _ := out.Get("result")
	assert.Equal(t, 8, v)

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     map[string]any{"type": nodes.TypeScript, "script": "flow.names.map(function (n) { return n.toUpperCase() })", "output": "upper"},
		Input:    map[string]any{"names": []any{"a", "b"}},
		Expected: map[string]any{"upper": []any{"A", "B"}},
	})

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:    map[string]any{"type": nodes.TypeScript, "script": "while (true) {}", "timeout": 50},
		Input:   map[string]any{},
		WantErr: true,
	})

	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:    map[string]any{"type": nodes.TypeScript, "script": "throw new Error('nope')"},
		Input:   map[string]any{},
		WantErr: true,
	})
}

func TestScriptCompileError(t *testing.T) {
	j, err := runtime.NewJob(runtime.JobSpec{Name: "j", Graphs: []runtime.GraphSpec{
		graph("g", map[string]any{"type": nodes.TypeScript, "script": "function ("}),
	}}, runtime.Options{Factory: nodes.DefaultFactory(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.True(t, derrors.IsValidation(j.Init()))
}

func TestEnsureFile(t *testing.T) {
	dir := t.TempDir()
	nodetest.Run(t, nodes.DefaultFactory(), nodetest.Case{
		Node:     map[string]any{"type": nodes.TypeEnsureFile, "path": dir + "/out/{name}.csv"},
		Input:    map[string]any{"name": "report"},
		Expected: map[string]any{"name": "report"},
	})
	_, err := os.Stat(filepath.Join(dir, "out", "report.csv"))
	assert.NoError(t, err)
}

func TestDefaultFactory(t *testing.T) {
	f := nodes.DefaultFactory()
	assert.Len(t, f.RegisteredTypes(), 13)
	for _, typ := range f.RegisteredTypes() {
		_, _, err := f.Create(typ)
		assert.NoError(t, err, typ)
	}
}

func TestVMPoolReuse(t *testing.T) {
	j := nodetest.Job(t, nodes.DefaultFactory(), nodetest.Case{
		Node: map[string]any{"type": nodes.TypeScript, "script": "flow.n + 1", "output": "m"},
	})
	for i := 0; i < 20; i++ {
		fm := j.NewFlow()
		fm.Put("n", i)
		out, err := j.Entry().Accept(context.Background(), fm)
		require.NoError(t, err)
		m, _ := out.Get("m")
		assert.Equal(t, i+1, m)
	}
}

func TestScriptGlobalsDoNotLeak(t *testing.T) {
	scripts := map[string]string{
		"var":      "var seen = (typeof seen === 'undefined') ? flow.n : seen; seen",
		"implicit": "if (typeof counter === 'undefined') { counter = 0 } counter += flow.n; counter",
		"let":      "let x = flow.n; x",
		"function": "function twice() { return flow.n * 2 } twice() / 2",
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			j := nodetest.Job(t, nodes.DefaultFactory(), nodetest.Case{
				Node: map[string]any{"type": nodes.TypeScript, "script": script, "output": "m"},
			})
			for i := 0; i < 5; i++ {
				fm := j.NewFlow()
				fm.Put("n", i)
				out, err := j.Entry().Accept(context.Background(), fm)
				require.NoError(t, err)
				m, _ := out.Get("m")
				assert.Equal(t, i, m, "run %d", i)
			}
		})
	}
}
