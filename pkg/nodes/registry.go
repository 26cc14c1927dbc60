// Package nodes provides the built-in node implementations.
package nodes

import "github.com/wehubfusion/Daedalus/pkg/runtime"

// Type names of the built-in nodes.
const (
	TypeEcho            = "EchoNode"
	TypeRemoveKey       = "RemoveKeyNode"
	TypeSum             = "SumNode"
	TypePipe            = "PipeNode"
	TypeMapJoin         = "MapJoinNode"
	TypeStringGenerator = "StringGeneratorNode"
	TypeIfThenElse      = "IfThenElseNode"
	TypeStringCase      = "StringCaseNode"
	TypeScript          = "ScriptNode"
	TypeEnsureFile      = "EnsureFileNode"
	TypeDateFormat      = "DateFormatNode"
	TypeJSON            = "JsonNode"
	TypeCompare         = "CompareNode"
)

// Register adds every built-in node to f.
func Register(f *runtime.Factory) {
	f.Register(TypeEcho, func() runtime.Node { return &Echo{} })
	f.Register(TypeRemoveKey, func() runtime.Node { return RemoveKey{} })
	f.Register(TypeSum, func() runtime.Node { return &Sum{} })
	f.Register(TypePipe, func() runtime.Node { return &Pipe{} })
	f.Register(TypeMapJoin, func() runtime.Node { return &MapJoin{} })
	f.Register(TypeStringGenerator, func() runtime.Node { return &StringGenerator{} })
	f.Register(TypeIfThenElse, func() runtime.Node { return &IfThenElse{} })
	f.Register(TypeStringCase, func() runtime.Node { return &StringCase{} })
	f.Register(TypeScript, func() runtime.Node { return &Script{} })
	f.Register(TypeEnsureFile, func() runtime.Node { return EnsureFile{} })
	f.Register(TypeDateFormat, func() runtime.Node { return &DateFormat{} })
	f.Register(TypeJSON, func() runtime.Node { return &JSON{} })
	f.Register(TypeCompare, func() runtime.Node { return &Compare{} })
}

// DefaultFactory returns a factory with all built-in nodes registered.
func DefaultFactory() *runtime.Factory {
	f := runtime.NewFactory()
	Register(f)
	return f
}
