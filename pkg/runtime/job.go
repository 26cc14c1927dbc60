package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/address"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/filesvc"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/observe"
	"github.com/wehubfusion/Daedalus/pkg/pool"
)

const (
	DefaultThreads = 25
	DefaultService = "main"
)

// GraphSpec is one named, ordered sequence of raw node configurations.
type GraphSpec struct {
	Name  string
	Nodes []map[string]any
}

// JobSpec is the decoded description of a job.
type JobSpec struct {
	Name string
	// Entry addresses the first node to run. Empty means the first node of
	// the first graph.
	Entry                    string
	Graphs                   []GraphSpec
	Arguments                map[string]any
	GlobalNodeConfigurations GlobalConfigurations
	// Imports maps instance names to initialized jobs reachable through
	// qualified addresses.
	Imports map[string]*Job
}

// Hook runs around every node execution of a job.
type Hook interface {
	Before(ctx context.Context, c *Container, fm *flow.FlowMap) error
	After(ctx context.Context, c *Container, fm *flow.FlowMap)
}

// Options carries the collaborators of a job. Zero values fall back to
// sensible defaults.
type Options struct {
	Factory        *Factory
	Pools          *pool.Registry
	Files          filesvc.Service
	Observer       observe.Observer
	Logger         *zap.Logger
	DefaultThreads int
	DefaultService string
	Hooks          []Hook
}

// Job is one instance: its graphs of containers, its arguments and global
// configuration, and its imported instances.
type Job struct {
	name     string
	opts     Options
	logger   *zap.Logger
	pools    *pool.Registry
	files    filesvc.Service
	observer observe.Observer
	args     map[string]any
	globals  GlobalConfigurations
	entrySrc string

	graphs     map[string][]*Container
	graphOrder []string
	imports    map[string]*Job
	entry      *Container

	initialized atomic.Bool
}

// NewJob creates the containers of every graph. Nothing is bound or
// resolved until Init.
func NewJob(spec JobSpec, opts Options) (*Job, error) {
	if err := address.ValidateLabel(spec.Name); err != nil {
		return nil, derrors.NewError(derrors.KindValidation, "bad job name", err)
	}
	if len(spec.Graphs) == 0 {
		return nil, derrors.Validation("job %s has no graphs", spec.Name)
	}
	if opts.Factory == nil {
		return nil, derrors.Validation("job %s has no node factory", spec.Name)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pools == nil {
		opts.Pools = pool.NewRegistry(opts.Logger)
	}
	if opts.Files == nil {
		opts.Files = filesvc.NewLocal(opts.Logger)
	}
	if opts.Observer == nil {
		opts.Observer = observe.NewLogObserver(opts.Logger)
	}
	if opts.DefaultThreads <= 0 {
		opts.DefaultThreads = DefaultThreads
	}
	if opts.DefaultService == "" {
		opts.DefaultService = DefaultService
	}

	j := &Job{
		name:     spec.Name,
		opts:     opts,
		logger:   opts.Logger,
		pools:    opts.Pools,
		files:    opts.Files,
		observer: opts.Observer,
		args:     spec.Arguments,
		globals:  spec.GlobalNodeConfigurations,
		entrySrc: spec.Entry,
		graphs:   make(map[string][]*Container, len(spec.Graphs)),
		imports:  spec.Imports,
	}
	if j.args == nil {
		j.args = map[string]any{}
	}

	for _, g := range spec.Graphs {
		if err := address.ValidateLabel(g.Name); err != nil {
			return nil, derrors.NewError(derrors.KindValidation, "bad graph name in job "+spec.Name, err)
		}
		if _, dup := j.graphs[g.Name]; dup {
			return nil, derrors.Validation("graph %s defined twice in job %s", g.Name, spec.Name)
		}
		if len(g.Nodes) == 0 {
			return nil, derrors.Validation("graph %s of job %s has no nodes", g.Name, spec.Name)
		}
		containers := make([]*Container, 0, len(g.Nodes))
		for i, raw := range g.Nodes {
			c, err := j.newContainer(g.Name, i, raw)
			if err != nil {
				return nil, err
			}
			containers = append(containers, c)
		}
		j.graphs[g.Name] = containers
		j.graphOrder = append(j.graphOrder, g.Name)
	}
	return j, nil
}

func (j *Job) newContainer(graph string, index int, raw map[string]any) (*Container, error) {
	typeName, _ := raw["type"].(string)
	if typeName == "" {
		return nil, derrors.Validation("missing mandatory field \"type\" of node %s.%s.%d", j.name, graph, index)
	}
	n, shape, err := j.opts.Factory.Create(typeName)
	if err != nil {
		return nil, err
	}

	label := ""
	if v, ok := raw["address"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, derrors.Validation("address of node %s.%s.%d must be a string", j.name, graph, index)
		}
		if err := address.ValidateLabel(s); err != nil {
			return nil, err
		}
		label = s
	}

	return &Container{
		job:      j,
		node:     n,
		shape:    shape,
		typeName: typeName,
		raw:      raw,
		graph:    graph,
		label:    label,
		index:    index,
	}, nil
}

// Name returns the instance name.
func (j *Job) Name() string { return j.name }

// Logger returns the job logger.
func (j *Job) Logger() *zap.Logger { return j.logger }

// Graphs returns the graph names in declaration order.
func (j *Job) Graphs() []string {
	out := make([]string, len(j.graphOrder))
	copy(out, j.graphOrder)
	return out
}

// Nodes returns the containers of a graph.
func (j *Job) Nodes(graph string) []*Container {
	return j.graphs[graph]
}

// Entry returns the entry container. It is nil before Init.
func (j *Job) Entry() *Container { return j.entry }

// Initialized reports whether Init completed.
func (j *Job) Initialized() bool { return j.initialized.Load() }

// Init checks the imported instances and initializes every container in
// declaration order. Any failure aborts the job before it runs.
func (j *Job) Init() error {
	for name, imp := range j.imports {
		if imp == nil || !imp.Initialized() {
			return derrors.Validation("imported job %s of %s is not initialized", name, j.name)
		}
		if _, ok := j.graphs[name]; ok || name == j.name {
			return derrors.Validation("imported job has graph address conflict: %s in %s", name, j.name)
		}
	}

	for _, g := range j.graphOrder {
		for _, c := range j.graphs[g] {
			if err := c.init(); err != nil {
				j.logger.Error("node initialization failed",
					zap.String("job", j.name), zap.String("node", fmt.Sprintf("%s.%d", g, c.index)), zap.Error(err))
				return err
			}
		}
	}

	first := j.graphs[j.graphOrder[0]][0]
	if j.entrySrc == "" {
		j.entry = first
	} else {
		a, err := address.Parse(j.entrySrc)
		if err != nil {
			return derrors.NewError(derrors.KindValidation, "bad entry address of job "+j.name, err)
		}
		if j.entry, err = j.Resolve(first.addr, a); err != nil {
			return err
		}
	}

	j.initialized.Store(true)
	j.logger.Info("job initialized",
		zap.String("job", j.name), zap.Strings("graphs", j.graphOrder), zap.Stringer("entry", j.entry))
	return nil
}

func (j *Job) indexOf(c *Container) int {
	for i, other := range j.graphs[c.graph] {
		if other == c {
			return i
		}
	}
	return -1
}

func (j *Job) graphSize(graph string) int { return len(j.graphs[graph]) }

// next returns the implicit successor of c in its graph.
func (j *Job) next(c *Container) *Container {
	nodes := j.graphs[c.graph]
	if c.index+1 < len(nodes) {
		return nodes[c.index+1]
	}
	return nil
}

// Resolve resolves a statically configured address. Failures are
// validation errors.
func (j *Job) Resolve(from address.NodeAddress, target address.Address) (*Container, error) {
	c, err := j.resolve(from, target)
	if err != nil {
		return nil, derrors.NewError(derrors.KindValidation,
			fmt.Sprintf("cannot resolve %s from %s", target, from), err)
	}
	return c, nil
}

// Node resolves target relative to the entry graph.
func (j *Job) Node(target string) (*Container, error) {
	a, err := address.Parse(target)
	if err != nil {
		return nil, err
	}
	first := j.graphs[j.graphOrder[0]][0]
	from := address.NodeAddress{Instance: j.name, Graph: first.graph, Index: first.index}
	return j.Resolve(from, a)
}

// resolve implements the lookup order: qualified instance, graph of this
// instance, then the requester's own graph. Bare names fall back to graph
// names and imported instance names.
func (j *Job) resolve(from address.NodeAddress, target address.Address) (*Container, error) {
	parts := target.Parts
	ref := target.Ref()

	switch len(parts) {
	case 3:
		inst, err := j.instance(parts[0])
		if err != nil {
			return nil, err
		}
		return inst.inGraph(parts[1], ref)

	case 2:
		if _, ok := j.graphs[parts[0]]; ok {
			return j.inGraph(parts[0], ref)
		}
		if imp, ok := j.imports[parts[0]]; ok {
			return imp.graphOrEntryNode(parts[1])
		}
		return nil, fmt.Errorf("no graph or imported instance named %q in %s", parts[0], j.name)

	case 1:
		c, err := j.inGraph(from.Graph, ref)
		if err == nil || ref.HasIndex() || errors.Is(err, errAmbiguous) {
			return c, err
		}
		if nodes, ok := j.graphs[ref.Label]; ok {
			return nodes[0], nil
		}
		if imp, ok := j.imports[ref.Label]; ok {
			return imp.entry, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("malformed address %s", target)
}

var errAmbiguous = errors.New("ambiguous address")

func (j *Job) instance(name string) (*Job, error) {
	if name == j.name {
		return j, nil
	}
	if imp, ok := j.imports[name]; ok {
		return imp, nil
	}
	return nil, fmt.Errorf("unknown instance %q", name)
}

func (j *Job) graphOrEntryNode(part string) (*Container, error) {
	if nodes, ok := j.graphs[part]; ok {
		return nodes[0], nil
	}
	ref, err := address.ParseRef(part)
	if err != nil {
		return nil, err
	}
	return j.inGraph(j.entry.graph, ref)
}

// inGraph finds ref in graph. A label decides; a given index must agree.
func (j *Job) inGraph(graph string, ref address.Ref) (*Container, error) {
	nodes, ok := j.graphs[graph]
	if !ok {
		return nil, fmt.Errorf("no graph %q in %s", graph, j.name)
	}

	if !ref.HasLabel() {
		if ref.Index < 0 || ref.Index >= len(nodes) {
			return nil, fmt.Errorf("index %d out of range for graph %s.%s of size %d", ref.Index, j.name, graph, len(nodes))
		}
		return nodes[ref.Index], nil
	}

	var matches []*Container
	for _, c := range nodes {
		if c.label == ref.Label {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no node labelled %q in graph %s.%s", ref.Label, j.name, graph)
	case 1:
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = fmt.Sprint(m.index)
		}
		return nil, fmt.Errorf("%w: label %q matches indices %s in %s.%s",
			errAmbiguous, ref.Label, strings.Join(names, ", "), j.name, graph)
	}
	c := matches[0]
	if ref.HasIndex() && c.index != ref.Index {
		return nil, fmt.Errorf("label %q is at index %d, not %d", ref.Label, c.index, ref.Index)
	}
	return c, nil
}

// NewFlow creates an origin flow for this job seeded with its arguments.
// Nil arguments only disable argument fields and are not copied.
func (j *Job) NewFlow() *flow.FlowMap {
	fm := flow.New(flow.WithLogger(j.logger))
	for k, v := range j.args {
		if v != nil {
			fm.Put(k, v)
		}
	}
	return fm
}

// Start runs the entry node on fm as the job's top-level task. The task
// runs on a dedicated single-worker pool named after the job.
func (j *Job) Start(ctx context.Context, fm *flow.FlowMap) *Future {
	f := newFuture()
	if !j.Initialized() {
		f.complete(nil, derrors.Validation("job %s is not initialized", j.name))
		return f
	}

	taskCtx := context.WithoutCancel(ctx)
	err := j.pools.Get("job:"+j.name, 1).Submit(ctx, func(context.Context) error {
		start := time.Now()
		res := observe.TaskResult{
			Job:    j.name,
			Source: j.name,
			Target: j.entry.addr.String(),
			FlowID: fm.ID().String(),
			Fork:   observe.TopLevel,
		}

		out, err := j.entry.Accept(taskCtx, fm)
		if err != nil {
			j.logger.Error("job terminated exceptionally", zap.String("job", j.name), zap.Error(err))
			res.Status, res.Err = observe.StatusFailed, err
		} else {
			j.logger.Info("job finished", zap.String("job", j.name), zap.Duration("duration", time.Since(start)))
			res.Status = observe.StatusSucceeded
		}
		res.Duration = time.Since(start)
		j.observer.Observe(res)

		f.complete(out, err)
		return err
	})
	if err != nil {
		f.complete(nil, err)
	}
	return f
}

// RunOptions controls a run of several jobs.
type RunOptions struct {
	// Exit stops after initialization; no job is executed.
	Exit bool
}

// RunAll starts every job with a fresh origin flow and waits for all of
// them. A failing job does not stop its siblings; an error is returned
// only when every job failed.
func RunAll(ctx context.Context, jobs []*Job, opts RunOptions) error {
	if len(jobs) == 0 {
		return nil
	}
	if opts.Exit {
		for _, j := range jobs {
			j.logger.Info("exit requested, skipping execution", zap.String("job", j.name))
		}
		return nil
	}

	errs := make([]error, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			_, errs[i] = j.Start(ctx, j.NewFlow()).Wait(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(jobs) {
		return fmt.Errorf("all %d jobs failed: %w", failed, errors.Join(errs...))
	}
	return nil
}
