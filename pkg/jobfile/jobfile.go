// Package jobfile decodes job definitions from YAML or JSON files.
//
// A job file looks like
//
//	name: crawl
//	entry: main.start
//	arguments:
//	  host: example.org
//	globalNodeConfigurations:
//	  /.*/:
//	    logLevel: DEBUG
//	graphs:
//	  main:
//	    - type: EchoNode
//	      puts: {page: 1}
//
// Graphs keep their declaration order; the first graph is the default
// entry graph.
package jobfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// Format is the serialization of a job file.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "yaml"
}

// FormatOf derives the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yf", ".yaml", ".yml":
		return FormatYAML, nil
	case ".jf", ".json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unsupported job file extension %q", filepath.Ext(path))
}

type header struct {
	Name                     string                    `yaml:"name" json:"name" validate:"required"`
	Entry                    string                    `yaml:"entry" json:"entry"`
	Arguments                map[string]any            `yaml:"arguments" json:"arguments"`
	GlobalNodeConfigurations map[string]map[string]any `yaml:"globalNodeConfigurations" json:"globalNodeConfigurations"`
}

type yamlDocument struct {
	header `yaml:",inline"`
	Graphs yaml.Node `yaml:"graphs"`
}

type jsonDocument struct {
	header
	Graphs json.RawMessage `json:"graphs"`
}

var validate = validator.New()

// Load reads and decodes the job file at path.
func Load(path string) (runtime.JobSpec, error) {
	format, err := FormatOf(path)
	if err != nil {
		return runtime.JobSpec{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return runtime.JobSpec{}, fmt.Errorf("failed to open job file: %w", err)
	}
	defer f.Close()

	spec, err := Decode(f, format)
	if err != nil {
		return runtime.JobSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Decode reads one job definition.
func Decode(r io.Reader, format Format) (runtime.JobSpec, error) {
	var (
		h      header
		graphs []runtime.GraphSpec
		err    error
	)

	switch format {
	case FormatJSON:
		var doc jsonDocument
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return runtime.JobSpec{}, fmt.Errorf("failed to decode json job: %w", err)
		}
		h = doc.header
		h.Arguments = normalizeMap(h.Arguments)
		for k, v := range h.GlobalNodeConfigurations {
			h.GlobalNodeConfigurations[k] = normalizeMap(v)
		}
		graphs, err = jsonGraphs(doc.Graphs)
	default:
		var doc yamlDocument
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return runtime.JobSpec{}, fmt.Errorf("failed to decode yaml job: %w", err)
		}
		h = doc.header
		graphs, err = yamlGraphs(&doc.Graphs)
	}
	if err != nil {
		return runtime.JobSpec{}, err
	}

	if err := validate.Struct(h); err != nil {
		return runtime.JobSpec{}, fmt.Errorf("invalid job: %w", err)
	}
	if len(graphs) == 0 {
		return runtime.JobSpec{}, fmt.Errorf("job %s defines no graphs", h.Name)
	}

	return runtime.JobSpec{
		Name:                     h.Name,
		Entry:                    h.Entry,
		Graphs:                   graphs,
		Arguments:                h.Arguments,
		GlobalNodeConfigurations: runtime.GlobalConfigurations(h.GlobalNodeConfigurations),
	}, nil
}

func yamlGraphs(node *yaml.Node) ([]runtime.GraphSpec, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: graphs must be a mapping from name to node list", node.Line)
	}

	graphs := make([]runtime.GraphSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var nodes []map[string]any
		if err := node.Content[i+1].Decode(&nodes); err != nil {
			return nil, fmt.Errorf("graph %s: %w", name, err)
		}
		graphs = append(graphs, runtime.GraphSpec{Name: name, Nodes: nodes})
	}
	return graphs, nil
}

func jsonGraphs(raw json.RawMessage) ([]runtime.GraphSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("graphs must be an object from name to node list")
	}

	var graphs []runtime.GraphSpec
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var nodes []map[string]any
		if err := dec.Decode(&nodes); err != nil {
			return nil, fmt.Errorf("graph %s: %w", name, err)
		}
		for i := range nodes {
			nodes[i] = normalizeMap(nodes[i])
		}
		graphs = append(graphs, runtime.GraphSpec{Name: name, Nodes: nodes})
	}
	return graphs, nil
}

// normalizeMap turns json.Number into int or float64 the way the YAML
// decoder reports numbers.
func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalize(v)
	}
	return m
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		return normalizeMap(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	}
	return v
}
