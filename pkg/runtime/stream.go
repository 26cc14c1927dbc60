package runtime

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// collector accumulates the values of one stream run, keyed by the origin
// flow id.
type collector struct {
	origin *flow.FlowMap
	keys   []string
	values map[string][]any
}

// Collecting reports whether the stream node gathers its emitted flows.
func (c *Container) Collecting() bool { return c.collect }

// Collect declares the keys gathered from every flow emitted for origin.
// It has no effect when the node is not collecting.
func (c *Container) Collect(origin *flow.FlowMap, keys ...string) {
	if !c.collect {
		return
	}
	col := &collector{origin: origin, keys: keys, values: make(map[string][]any, len(keys))}
	for _, k := range keys {
		col.values[k] = []any{}
	}
	c.collectMu.Lock()
	c.collectors[origin.ID()] = col
	c.collectMu.Unlock()
}

// StreamFlowMap emits one derived flow. In streaming mode it is dispatched
// to the stream target; in collecting mode the collected keys are appended
// to the lists of origin. A missing key is an error.
func (c *Container) StreamFlowMap(ctx context.Context, origin, emitted *flow.FlowMap) error {
	if !c.collect {
		return c.dispatchTo(ctx, emitted, c.streamTarget)
	}

	c.collectMu.Lock()
	defer c.collectMu.Unlock()
	col, ok := c.collectors[origin.ID()]
	if !ok {
		return derrors.Validation("no collection declared for flow %s at %s", origin.ID(), c)
	}
	for _, k := range col.keys {
		v, ok := emitted.Get(k)
		if !ok {
			return derrors.Template("missing expected element at key %s", k)
		}
		col.values[k] = append(col.values[k], v)
	}
	return nil
}

func (c *Container) closeCollector(id uuid.UUID) *collector {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()
	col := c.collectors[id]
	delete(c.collectors, id)
	return col
}

// processStream runs the stream node. When collecting, a copy of the
// origin carrying the collected lists is forwarded. Otherwise the input
// is returned as is.
func (c *Container) processStream(ctx context.Context, fm *flow.FlowMap) (*flow.FlowMap, error) {
	c.Log(LevelTrace, "processing stream", zap.Bool("collect", c.collect), zap.Stringer("flow_id", fm.ID()))

	err := c.node.(StreamNode).ProcessStream(ctx, c, fm)
	col := c.closeCollector(fm.ID())
	if err != nil {
		return nil, err
	}
	if !c.collect {
		return fm, nil
	}

	out := fm.Copy()
	if col != nil {
		out = col.origin.Copy()
		for _, k := range col.keys {
			if err := out.Output(k, col.values[k]); err != nil {
				return nil, err
			}
		}
	}
	return c.Forward(ctx, out)
}
