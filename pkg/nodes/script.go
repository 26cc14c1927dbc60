package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// Script runs a JavaScript snippet with the flow values bound to the global
// "flow" object. The value of the last expression is written to output;
// undefined and null write nothing. Globals never outlive one execution.
type Script struct {
	program      *goja.Program
	keepsGlobals bool
	output       string
	timeout      time.Duration
	vms          *vmPool
}

func (n *Script) Fields() []runtime.FieldSpec {
	return []runtime.FieldSpec{
		{Name: "script", Kind: runtime.FieldString, Mandatory: true},
		{Name: "output", Kind: runtime.FieldString, Default: "result"},
		{Name: "timeout", Kind: runtime.FieldInt, Default: 1000},
	}
}

func (n *Script) Bind(b *runtime.Bindings) error {
	parsed, err := goja.Parse("script", b.String("script"))
	if err != nil {
		return derrors.NewError(derrors.KindValidation, "script does not compile", err)
	}
	program, err := goja.CompileAST(parsed, false)
	if err != nil {
		return derrors.NewError(derrors.KindValidation, "script does not compile", err)
	}
	n.program = program
	n.keepsGlobals = declaresGlobals(parsed)
	n.output = b.String("output")
	n.timeout = time.Duration(b.Int("timeout")) * time.Millisecond
	if n.vms == nil {
		n.vms = defaultVMPool()
	}
	return nil
}

func (n *Script) Modify(ctx context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	vm, err := n.vms.acquire(ctx)
	if err != nil {
		return derrors.Node("failed to acquire script runtime", err)
	}
	defer n.vms.release(vm, n.keepsGlobals)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			vm.vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	// the watcher must be gone before the runtime is released
	defer func() {
		close(done)
		<-stopped
	}()

	if err := vm.vm.Set("flow", fm.Snapshot()); err != nil {
		return derrors.Node("failed to bind flow", err)
	}

	start := time.Now()
	value, err := vm.vm.RunProgram(n.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return derrors.Node("script timed out after "+n.timeout.String(), err)
		}
		return derrors.Node("script failed", err)
	}
	c.Log(runtime.LevelTrace, "script finished", zap.Duration("duration", time.Since(start)))

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	return fm.Output(n.output, normalize(value.Export()))
}

// normalize converts exported JavaScript numbers to int where they are
// integral.
func normalize(v any) any {
	switch x := v.(type) {
	case int64:
		return int(x)
	case float64:
		if x == float64(int(x)) && x < 1<<53 && x > -(1<<53) {
			return int(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}
