package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// JSON operations.
const (
	JSONQuery  = "query"
	JSONSet    = "set"
	JSONDelete = "delete"
)

// JSON reads from or edits a JSON document held as a string in the flow.
// Paths use gjson syntax; a leading "$." is accepted and ignored.
//
// query writes the value found at path, set and delete write the edited
// document.
type JSON struct {
	operation string
	output    string
}

func (n *JSON) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "input", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
		{Name: "operation", Kind: runtime.FieldEnum, Enum: []string{JSONQuery, JSONSet, JSONDelete}, Default: JSONQuery},
		{Name: "path", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
		{Name: "value", Kind: runtime.FieldTemplate, Type: typedesc.Any},
		{Name: "output", Kind: runtime.FieldString, Mandatory: true},
	}
}

func (n *JSON) Bind(b *runtime.Bindings) error {
	n.operation = b.String("operation")
	n.output = b.String("output")
	if n.operation == JSONSet && !b.Has("value") {
		return derrors.Validation("operation set requires a value")
	}
	return nil
}

func jsonPath(p string) string {
	p = strings.TrimPrefix(p, "$.")
	return strings.ReplaceAll(p, "[*]", ".#")
}

func (n *JSON) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	b := c.Bindings()
	in, err := fm.Eval(b.Term("input"))
	if err != nil {
		return err
	}
	doc := fmt.Sprint(in)
	if !gjson.Valid(doc) {
		return derrors.Node("input is not valid JSON", nil)
	}

	p, err := fm.Eval(b.Term("path"))
	if err != nil {
		return err
	}
	path := jsonPath(fmt.Sprint(p))

	switch n.operation {
	case JSONSet:
		value, err := fm.Eval(b.Term("value"))
		if err != nil {
			return err
		}
		out, err := sjson.Set(doc, path, value)
		if err != nil {
			return derrors.Node("failed to set "+path, err)
		}
		return fm.Output(n.output, out)
	case JSONDelete:
		out, err := sjson.Delete(doc, path)
		if err != nil {
			return derrors.Node("failed to delete "+path, err)
		}
		return fm.Output(n.output, out)
	}

	res := gjson.Get(doc, path)
	if !res.Exists() {
		if strings.Contains(path, "#") {
			return fm.Output(n.output, []any{})
		}
		return derrors.Node(fmt.Sprintf("path %q does not exist", path), nil)
	}
	return fm.Output(n.output, normalize(res.Value()))
}
