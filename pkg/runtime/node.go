package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Node is a unit of business logic. It declares its configuration fields
// and receives their bound values once, during container initialization.
// A node must also implement exactly one of GenericNode, FunctionalNode or
// StreamNode.
type Node interface {
	// Fields returns the declarative field table of the node.
	Fields() []FieldSpec
	// Bind receives the bound values for every declared field.
	Bind(b *Bindings) error
}

// GenericNode owns its control flow. It may forward, eval or fork itself.
type GenericNode interface {
	Node
	Process(ctx context.Context, c *Container, fm *flow.FlowMap) (*flow.FlowMap, error)
}

// FunctionalNode modifies the flow in place; the container always forwards
// afterwards.
type FunctionalNode interface {
	Node
	Modify(ctx context.Context, c *Container, fm *flow.FlowMap) error
}

// StreamNode emits derived flows through Container.StreamFlowMap.
type StreamNode interface {
	Node
	ProcessStream(ctx context.Context, c *Container, fm *flow.FlowMap) error
}

// Initializer is implemented by nodes that need to validate or resolve
// static configuration after binding, e.g. address lists.
type Initializer interface {
	Init(c *Container) error
}

// Shape tags the capability of a node.
type Shape int

const (
	ShapeGeneric Shape = iota
	ShapeFunctional
	ShapeStream
)

func (s Shape) String() string {
	switch s {
	case ShapeGeneric:
		return "generic"
	case ShapeFunctional:
		return "functional"
	case ShapeStream:
		return "stream"
	}
	return "unknown"
}

// ShapeOf classifies a node. Implementing more than one shape is an error.
func ShapeOf(n Node) (Shape, error) {
	var shapes []Shape
	if _, ok := n.(GenericNode); ok {
		shapes = append(shapes, ShapeGeneric)
	}
	if _, ok := n.(FunctionalNode); ok {
		shapes = append(shapes, ShapeFunctional)
	}
	if _, ok := n.(StreamNode); ok {
		shapes = append(shapes, ShapeStream)
	}
	switch len(shapes) {
	case 1:
		return shapes[0], nil
	case 0:
		return 0, fmt.Errorf("node %T implements no node shape", n)
	}
	names := make([]string, len(shapes))
	for i, s := range shapes {
		names[i] = s.String()
	}
	return 0, fmt.Errorf("node %T implements several shapes: %s", n, strings.Join(names, ", "))
}

// Level is a node log level.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Levels lists the valid log levels.
var Levels = []string{string(LevelTrace), string(LevelDebug), string(LevelInfo), string(LevelWarn), string(LevelError)}

// enabled reports whether a message at level passes the node threshold.
func (threshold Level) enabled(level Level) bool {
	switch level {
	case LevelTrace:
		return threshold == LevelTrace
	case LevelDebug:
		return threshold == LevelTrace || threshold == LevelDebug
	case LevelInfo:
		return threshold != LevelWarn && threshold != LevelError
	case LevelWarn:
		return threshold != LevelError
	}
	return true
}

// worseOrEqual reports whether l is at least as severe as o.
func (l Level) worseOrEqual(o Level) bool {
	return levelRank(l) >= levelRank(o)
}

func levelRank(l Level) int {
	switch l {
	case LevelTrace:
		return 0
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	}
	return 4
}
