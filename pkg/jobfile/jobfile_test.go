package jobfile_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Daedalus/pkg/jobfile"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/pool"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

const yamlJob = `
name: pages
entry: main
arguments:
  from: "2"
globalNodeConfigurations:
  /.*Node/:
    logLevel: DEBUG
graphs:
  main:
    - type: StringGeneratorNode
      generator: "page={i}"
      expression: "i {from} TO 3"
  zeta:
    - type: EchoNode
      puts: {n: 1}
  alpha:
    - type: EchoNode
      puts: {ratio: 2.5}
`

const jsonJob = `{
	"name": "pages",
	"graphs": {
		"zeta": [{"type": "EchoNode", "puts": {"n": 1, "f": 1.5, "l": [1, 2]}}],
		"alpha": [{"type": "SumNode", "integer": 1, "integer2": 2}]
	}
}`

func graphNames(spec runtime.JobSpec) []string {
	names := make([]string, len(spec.Graphs))
	for i, g := range spec.Graphs {
		names[i] = g.Name
	}
	return names
}

func TestDecodeYAML(t *testing.T) {
	spec, err := jobfile.Decode(strings.NewReader(yamlJob), jobfile.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "pages", spec.Name)
	assert.Equal(t, "main", spec.Entry)
	assert.Equal(t, []string{"main", "zeta", "alpha"}, graphNames(spec))
	assert.Equal(t, map[string]any{"from": "2"}, spec.Arguments)
	assert.Equal(t, "DEBUG", spec.GlobalNodeConfigurations["/.*Node/"]["logLevel"])

	want := map[string]any{"type": "EchoNode", "puts": map[string]any{"n": 1}}
	if diff := cmp.Diff(want, spec.Graphs[1].Nodes[0]); diff != "" {
		t.Errorf("zeta node mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]any{"ratio": 2.5}, spec.Graphs[2].Nodes[0]["puts"])
}

func TestDecodeJSONKeepsOrderAndNumbers(t *testing.T) {
	spec, err := jobfile.Decode(strings.NewReader(jsonJob), jobfile.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha"}, graphNames(spec))
	want := map[string]any{
		"type": "EchoNode",
		"puts": map[string]any{"n": 1, "f": 1.5, "l": []any{1, 2}},
	}
	if diff := cmp.Diff(want, spec.Graphs[0].Nodes[0]); diff != "" {
		t.Errorf("zeta node mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name   string
		format jobfile.Format
		input  string
		errMsg string
	}{
		{"yaml without name", jobfile.FormatYAML, "graphs:\n  g:\n    - type: EchoNode\n", "Name"},
		{"yaml without graphs", jobfile.FormatYAML, "name: j\n", "no graphs"},
		{"yaml graphs as list", jobfile.FormatYAML, "name: j\ngraphs:\n  - a\n", "mapping"},
		{"json without name", jobfile.FormatJSON, `{"graphs": {"g": [{"type": "EchoNode"}]}}`, "Name"},
		{"json graphs as list", jobfile.FormatJSON, `{"name": "j", "graphs": []}`, "object"},
		{"json broken", jobfile.FormatJSON, `{"name": `, "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jobfile.Decode(strings.NewReader(tt.input), tt.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]jobfile.Format{
		"a.yf": jobfile.FormatYAML, "a.YAML": jobfile.FormatYAML, "a.yml": jobfile.FormatYAML,
		"a.jf": jobfile.FormatJSON, "dir/a.json": jobfile.FormatJSON,
	} {
		got, err := jobfile.FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := jobfile.FormatOf("a.toml")
	assert.Error(t, err)
}

func TestLoadAndRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yf")
	require.NoError(t, os.WriteFile(path, []byte(yamlJob), 0o600))

	spec, err := jobfile.Load(path)
	require.NoError(t, err)

	pools := pool.NewRegistry(zaptest.NewLogger(t))
	defer pools.Close()
	j, err := runtime.NewJob(spec, runtime.Options{
		Factory: nodes.DefaultFactory(),
		Pools:   pools,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, j.Init())

	out, err := j.Start(context.Background(), j.NewFlow()).Wait(context.Background())
	require.NoError(t, err)
	generated, _ := out.Get("generated")
	assert.Equal(t, []any{"page=2", "page=3"}, generated)
}

func TestExamplesInitialize(t *testing.T) {
	files, err := filepath.Glob("../../examples/*.[yj]f")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			spec, err := jobfile.Load(f)
			require.NoError(t, err)
			j, err := runtime.NewJob(spec, runtime.Options{
				Factory: nodes.DefaultFactory(),
				Logger:  zaptest.NewLogger(t),
			})
			require.NoError(t, err)
			assert.NoError(t, j.Init())
		})
	}
}

func TestPagesExampleJoinsLabels(t *testing.T) {
	spec, err := jobfile.Load("../../examples/pages.yf")
	require.NoError(t, err)
	spec.Arguments["last"] = "2"

	pools := pool.NewRegistry(zaptest.NewLogger(t))
	defer pools.Close()
	j, err := runtime.NewJob(spec, runtime.Options{Factory: nodes.DefaultFactory(), Pools: pools, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, j.Init())

	out, err := j.Start(context.Background(), j.NewFlow()).Wait(context.Background())
	require.NoError(t, err)
	labels, _ := out.Get("labels")
	assert.Equal(t, []any{"HTTPS://EXAMPLE.ORG/LIST?PAGE=1", "HTTPS://EXAMPLE.ORG/LIST?PAGE=2"}, labels)
}
