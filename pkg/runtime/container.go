package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/address"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/pool"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

var tracer = otel.Tracer("daedalus/runtime")

const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
)

// Container wraps one node with its bound configuration, its resolved
// address and its hooks. All control transfer between nodes goes through
// container operations.
type Container struct {
	job      *Job
	node     Node
	shape    Shape
	typeName string
	raw      map[string]any
	graph    string
	label    string
	index    int

	state    atomic.Int32
	addr     address.NodeAddress
	logger   *zap.Logger
	bindings *Bindings

	level           Level
	logTemplate     template.Term
	forward         bool
	goTo            *Container
	service         string
	threads         int
	onForkException *Container
	ensure          []ensureField

	collect      bool
	streamTarget *Container
	collectMu    sync.Mutex
	collectors   map[uuid.UUID]*collector

	executing atomic.Int64
}

type ensureField struct {
	spec  FieldSpec
	value any
}

func commonFields(threads int, service string) []FieldSpec {
	return []FieldSpec{
		{Name: "type", Kind: FieldString, Mandatory: true},
		{Name: "logLevel", Kind: FieldEnum, Enum: Levels, Default: string(LevelInfo)},
		{Name: "log", Kind: FieldTemplate, Type: typedesc.Any},
		{Name: "address", Kind: FieldString},
		{Name: "forward", Kind: FieldBool, Default: true},
		{Name: "goTo", Kind: FieldAddress},
		{Name: "service", Kind: FieldString, Default: service},
		{Name: "threads", Kind: FieldInt, Default: threads, Argument: true},
		{Name: "onForkException", Kind: FieldAddress},
	}
}

var streamFields = []FieldSpec{
	{Name: "collect", Kind: FieldBool, Default: true},
	{Name: "streamTarget", Kind: FieldAddress},
}

// Address returns the resolved address of the container.
func (c *Container) Address() address.NodeAddress { return c.addr }

// Job returns the owning job.
func (c *Container) Job() *Job { return c.job }

// Node returns the wrapped node.
func (c *Container) Node() Node { return c.node }

// Shape returns the node shape.
func (c *Container) Shape() Shape { return c.shape }

// TypeName returns the configured node type.
func (c *Container) TypeName() string { return c.typeName }

// Bindings returns the bound field values.
func (c *Container) Bindings() *Bindings { return c.bindings }

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// GoTo returns the static forward target, if any.
func (c *Container) GoTo() *Container { return c.goTo }

func (c *Container) String() string { return c.addr.String() }

func (c *Container) init() error {
	if !c.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		return derrors.Validation("node %s initialized twice", c)
	}

	c.index = c.job.indexOf(c)
	c.addr = address.NodeAddress{Instance: c.job.name, Graph: c.graph, Label: c.label, Index: c.index}
	c.logger = c.job.logger.Named(c.loggerName())

	fields := commonFields(c.job.opts.DefaultThreads, c.job.opts.DefaultService)
	if c.shape == ShapeStream {
		fields = append(fields, streamFields...)
	}
	fields = append(fields, c.node.Fields()...)

	b, err := c.bindFields(fields)
	if err != nil {
		c.logger.Error("bad field definition", zap.Error(err))
		return err
	}
	c.bindings = b

	c.level = Level(b.String("logLevel"))
	c.logTemplate = b.Term("log")
	c.forward = b.Bool("forward")
	c.service = b.String("service")
	c.threads = b.Int("threads")
	if c.threads <= 0 {
		c.threads = c.job.opts.DefaultThreads
	}

	if err := c.node.Bind(b); err != nil {
		return derrors.NewError(derrors.KindValidation, fmt.Sprintf("node %s rejected its configuration", c), err)
	}

	if a, ok := b.Address("goTo"); ok {
		if c.goTo, err = c.job.Resolve(c.addr, a); err != nil {
			return err
		}
	} else if c.forward {
		c.goTo = c.job.next(c)
	}
	if a, ok := b.Address("onForkException"); ok {
		if c.onForkException, err = c.job.Resolve(c.addr, a); err != nil {
			return err
		}
	}

	if c.shape == ShapeStream {
		c.collect = b.Bool("collect")
		c.collectors = make(map[uuid.UUID]*collector)
		if a, ok := b.Address("streamTarget"); ok {
			if c.streamTarget, err = c.job.Resolve(c.addr, a); err != nil {
				return err
			}
		}
		if !c.collect && c.streamTarget == nil {
			return derrors.Validation("stream target has to be set for streaming mode at %s", c)
		}
	}

	if in, ok := c.node.(Initializer); ok {
		if err := in.Init(c); err != nil {
			return err
		}
	}

	c.state.Store(stateReady)
	return nil
}

// loggerName follows "job > label @ index | Type" with the index padded to
// the width of the largest index in the graph.
func (c *Container) loggerName() string {
	width := len(strconv.Itoa(max(c.job.graphSize(c.graph)-1, 0)))
	label := ""
	if c.label != "" {
		label = c.label + " @ "
	}
	return fmt.Sprintf("%s > %s%*d | %s", c.job.name, label, width, c.index, c.typeName)
}

func (c *Container) bindFields(fields []FieldSpec) (*Bindings, error) {
	b := newBindings()
	expected := make(map[string]bool, len(fields))

	for _, spec := range fields {
		if expected[spec.Name] {
			return nil, derrors.Validation("field %q declared twice by node type %s", spec.Name, c.typeName)
		}
		expected[spec.Name] = true

		raw, ok, err := c.rawValue(spec)
		if err != nil {
			return nil, err
		}
		if !ok {
			if spec.Mandatory {
				return nil, derrors.Validation("missing mandatory field %q of node %s", spec.Name, c)
			}
			continue
		}

		v, ok, err := bindField(spec, raw, c.job.args)
		if err != nil {
			return nil, derrors.NewError(derrors.KindValidation,
				fmt.Sprintf("bad field definition %q of node %s", spec.Name, c), err)
		}
		if !ok {
			if spec.Mandatory && !spec.Argument {
				return nil, derrors.Validation("mandatory field %q of node %s resolved to null", spec.Name, c)
			}
			continue
		}
		b.values[spec.Name] = v
		if spec.EnsureFile || spec.EnsureDir {
			c.ensure = append(c.ensure, ensureField{spec: spec, value: v})
		}
	}

	unknown := make([]string, 0)
	for k := range c.raw {
		if !expected[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		c.logger.Warn("found field defined in flow, but not expected in implementation of node",
			zap.String("field", k))
	}
	return b, nil
}

// rawValue applies the precedence node-local, global, default.
func (c *Container) rawValue(spec FieldSpec) (any, bool, error) {
	if v, ok := c.raw[spec.Name]; ok && v != nil {
		return v, true, nil
	}
	v, ok, err := c.job.globals.lookup(c.typeName, spec.Name)
	if err != nil || ok {
		return v, ok, err
	}
	if spec.Default != nil {
		return spec.Default, true, nil
	}
	return nil, false, nil
}

// Resolve resolves a static address relative to this node. Failures are
// validation errors.
func (c *Container) Resolve(target address.Address) (*Container, error) {
	return c.job.Resolve(c.addr, target)
}

func (c *Container) resolveRuntime(target address.Address) (*Container, error) {
	t, err := c.job.resolve(c.addr, target)
	if err != nil {
		return nil, derrors.NewError(derrors.KindAddress, fmt.Sprintf("cannot resolve %s from %s", target, c), err)
	}
	return t, nil
}

// Accept runs before-hooks, the node and after-hooks on fm.
func (c *Container) Accept(ctx context.Context, fm *flow.FlowMap) (*flow.FlowMap, error) {
	if c.state.Load() != stateReady {
		return nil, derrors.Validation("node %s is not initialized", c)
	}

	ctx, span := tracer.Start(ctx, "node.accept", trace.WithAttributes(
		attribute.String("node.address", c.addr.Representation()),
		attribute.String("node.type", c.typeName),
		attribute.String("node.shape", c.shape.String()),
		attribute.String("flow.id", fm.ID().String()),
	))
	defer span.End()

	c.executing.Add(1)
	defer c.executing.Add(-1)

	out, err := c.accept(ctx, fm)
	if err != nil {
		if derrors.IsTemplate(err) {
			c.Log(LevelError, "template type error", zap.String("address", c.addr.String()), zap.Error(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (c *Container) accept(ctx context.Context, fm *flow.FlowMap) (*flow.FlowMap, error) {
	if err := c.start(ctx, fm); err != nil {
		return nil, derrors.NewProcessingError(c.addr.String(), "start", fm.ID().String(), err)
	}
	for _, h := range c.job.opts.Hooks {
		if err := h.Before(ctx, c, fm); err != nil {
			return nil, derrors.NewProcessingError(c.addr.String(), "hook", fm.ID().String(), classify(err))
		}
	}

	out, err := c.process(ctx, fm)
	if err != nil {
		return nil, derrors.NewProcessingError(c.addr.String(), "process", fm.ID().String(), classify(err))
	}

	for _, h := range c.job.opts.Hooks {
		h.After(ctx, c, fm)
	}
	c.finish(fm)
	return out, nil
}

func (c *Container) process(ctx context.Context, fm *flow.FlowMap) (*flow.FlowMap, error) {
	switch c.shape {
	case ShapeFunctional:
		if err := c.node.(FunctionalNode).Modify(ctx, c, fm); err != nil {
			return nil, err
		}
		return c.Forward(ctx, fm)
	case ShapeStream:
		return c.processStream(ctx, fm)
	}
	return c.node.(GenericNode).Process(ctx, c, fm)
}

// classify marks errors without a kind as node processing errors.
func classify(err error) error {
	var de *derrors.Error
	var pe *derrors.ProcessingError
	if errors.As(err, &de) || errors.As(err, &pe) || errors.Is(err, context.Canceled) {
		return err
	}
	return derrors.Node("node processing failed", err)
}

// start is the built-in before-hook: flow trace, log template and ensured
// files.
func (c *Container) start(ctx context.Context, fm *flow.FlowMap) error {
	c.traceFlow(fm, "start")

	if c.logTemplate != nil {
		if v, ok, err := fm.EvalMaybe(c.logTemplate); err != nil {
			c.Log(LevelError, "could not evaluate log template", zap.Error(err))
		} else if ok {
			c.Log(c.level, fmt.Sprint(v))
		}
	}

	for _, f := range c.ensure {
		path, ok, err := c.ensurePath(fm, f)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c.Log(LevelTrace, "ensure file", zap.String("field", f.spec.Name), zap.String("path", path))
		if err := c.ensureOne(ctx, f.spec, path); err != nil {
			c.Log(LevelError, "failed ensure file", zap.Error(err))
			return derrors.Node("failed ensuring directory or file", err)
		}
	}
	return nil
}

func (c *Container) ensurePath(fm *flow.FlowMap, f ensureField) (string, bool, error) {
	switch v := f.value.(type) {
	case template.Term:
		res, ok, err := fm.EvalMaybe(v)
		if err != nil || !ok {
			return "", false, err
		}
		return fmt.Sprint(res), true, nil
	case string:
		return v, v != "", nil
	}
	return "", false, nil
}

func (c *Container) ensureOne(ctx context.Context, spec FieldSpec, path string) error {
	files := c.job.files
	if spec.EnsureDir || strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return files.EnsureDirectory(ctx, path)
	}
	return files.EnsureFile(ctx, path)
}

// finish is the built-in after-hook.
func (c *Container) finish(fm *flow.FlowMap) {
	c.traceFlow(fm, "finish")
}

func (c *Container) traceFlow(fm *flow.FlowMap, phase string) {
	if c.level.worseOrEqual(LevelWarn) && phase == "start" {
		return
	}
	fields := []zap.Field{
		zap.String("phase", phase),
		zap.String("flow_id", fm.ID().String()),
	}
	if c.level.worseOrEqual(LevelInfo) {
		fields = append(fields, zap.Strings("keys", fm.Keys()))
	}
	c.Log(LevelTrace, "flow state", fields...)
}

// Log writes msg if level passes the node's configured threshold. TRACE
// messages are written at debug level.
func (c *Container) Log(level Level, msg string, fields ...zap.Field) {
	if !c.level.enabled(level) {
		return
	}
	switch level {
	case LevelTrace, LevelDebug:
		c.logger.Debug(msg, fields...)
	case LevelInfo:
		c.logger.Info(msg, fields...)
	case LevelWarn:
		c.logger.Warn(msg, fields...)
	default:
		c.logger.Error(msg, fields...)
	}
}

// Forward passes fm to the static successor. It returns fm unchanged when
// forwarding is disabled or there is no successor.
func (c *Container) Forward(ctx context.Context, fm *flow.FlowMap) (*flow.FlowMap, error) {
	if !c.forward || c.goTo == nil {
		return fm, nil
	}
	return c.goTo.Accept(ctx, fm)
}

// Eval resolves target and synchronously runs it on fm.
func (c *Container) Eval(ctx context.Context, fm *flow.FlowMap, target address.Address) (*flow.FlowMap, error) {
	t, err := c.resolveRuntime(target)
	if err != nil {
		return nil, err
	}
	return t.Accept(ctx, fm)
}

// Pool returns the worker pool configured for this node.
func (c *Container) Pool() *pool.Pool {
	return c.job.pools.Get(c.service, c.threads)
}

// Executing returns the number of flows currently inside Accept.
func (c *Container) Executing() int64 { return c.executing.Load() }
