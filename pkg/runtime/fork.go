package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/address"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/observe"
)

// Future is the pending result of a dependent fork or a job run.
type Future struct {
	done chan struct{}
	fm   *flow.FlowMap
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(fm *flow.FlowMap, err error) {
	f.fm, f.err = fm, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (*flow.FlowMap, error) {
	select {
	case <-f.done:
		return f.fm, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// JoinAll waits for every future and returns the results in order. The
// first error encountered in order is returned after all futures settle.
func JoinAll(ctx context.Context, futures []*Future) ([]*flow.FlowMap, error) {
	out := make([]*flow.FlowMap, len(futures))
	var first error
	for i, f := range futures {
		fm, err := f.Wait(ctx)
		if err != nil && first == nil {
			first = err
		}
		out[i] = fm
	}
	return out, first
}

// ForkDispatch runs target on fm asynchronously on the node's pool. The
// caller never sees the branch outcome; failures are logged, routed to
// onForkException when configured and reported to the job observer. The
// returned error is only set when the task could not be submitted.
//
// fm is handed over as is. Callers that keep using their flow must pass a
// copy.
func (c *Container) ForkDispatch(ctx context.Context, fm *flow.FlowMap, target address.Address) error {
	return c.dispatch(ctx, fm, target.String(), func() (*Container, error) {
		return c.resolveRuntime(target)
	})
}

// ForkDepend runs target on fm asynchronously and returns a future for its
// result.
func (c *Container) ForkDepend(ctx context.Context, fm *flow.FlowMap, target address.Address) *Future {
	return c.depend(ctx, fm, target.String(), func() (*Container, error) {
		return c.resolveRuntime(target)
	})
}

func (c *Container) dispatchTo(ctx context.Context, fm *flow.FlowMap, target *Container) error {
	return c.dispatch(ctx, fm, target.addr.String(), func() (*Container, error) { return target, nil })
}

func (c *Container) dispatch(ctx context.Context, fm *flow.FlowMap, name string, resolve func() (*Container, error)) error {
	taskCtx := context.WithoutCancel(ctx)
	return c.Pool().Submit(ctx, func(context.Context) error {
		start := time.Now()
		res := c.result(fm, name, observe.ForkDispatch)

		_, err := c.evalResolved(taskCtx, fm, resolve)
		switch {
		case err == nil:
			res.Status = observe.StatusSucceeded
		case c.onForkException != nil:
			c.Log(LevelError, "dispatch terminated exceptionally, routing flow",
				zap.String("target", name), zap.Stringer("route", c.onForkException), zap.Error(err))
			res.Err = err
			if _, rerr := c.onForkException.Accept(taskCtx, fm); rerr != nil {
				res.Status, res.RouteErr = observe.StatusFailed, rerr
			} else {
				res.Status = observe.StatusRouted
			}
		default:
			c.Log(LevelError, "dispatch terminated exceptionally", zap.String("target", name), zap.Error(err))
			res.Status, res.Err = observe.StatusFailed, err
		}

		res.Duration = time.Since(start)
		c.job.observer.Observe(res)
		if res.Failed() {
			return res.Err
		}
		return nil
	})
}

func (c *Container) depend(ctx context.Context, fm *flow.FlowMap, name string, resolve func() (*Container, error)) *Future {
	f := newFuture()
	taskCtx := context.WithoutCancel(ctx)
	err := c.Pool().Submit(ctx, func(context.Context) error {
		start := time.Now()
		res := c.result(fm, name, observe.ForkDepend)

		out, err := c.evalResolved(taskCtx, fm, resolve)
		if err != nil {
			c.Log(LevelError, "dependent fork terminated exceptionally", zap.String("target", name), zap.Error(err))
			res.Status, res.Err = observe.StatusFailed, err
		} else {
			res.Status = observe.StatusSucceeded
		}
		res.Duration = time.Since(start)
		c.job.observer.Observe(res)

		f.complete(out, err)
		return err
	})
	if err != nil {
		f.complete(nil, err)
	}
	return f
}

func (c *Container) evalResolved(ctx context.Context, fm *flow.FlowMap, resolve func() (*Container, error)) (*flow.FlowMap, error) {
	t, err := resolve()
	if err != nil {
		return nil, err
	}
	return t.Accept(ctx, fm)
}

func (c *Container) result(fm *flow.FlowMap, target string, fork observe.Fork) observe.TaskResult {
	return observe.TaskResult{
		Job:    c.job.name,
		Source: c.addr.String(),
		Target: target,
		FlowID: fm.ID().String(),
		Fork:   fork,
	}
}
