package nodes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
)

// vmPool keeps reusable JavaScript runtimes.
type vmPool struct {
	vms         chan *pooledVM
	maxSize     int
	maxReuse    int
	currentSize atomic.Int32
}

type pooledVM struct {
	vm    *goja.Runtime
	reuse int
	// baseline holds the global names present after sandboxing; anything
	// else is removed before the runtime is reused.
	baseline map[string]struct{}
}

func newVMPool(maxSize, maxReuse int) *vmPool {
	if maxSize <= 0 {
		maxSize = 16
	}
	if maxReuse <= 0 {
		maxReuse = 1000
	}
	return &vmPool{
		vms:      make(chan *pooledVM, maxSize),
		maxSize:  maxSize,
		maxReuse: maxReuse,
	}
}

var (
	sharedVMs     *vmPool
	sharedVMsOnce sync.Once
)

func defaultVMPool() *vmPool {
	sharedVMsOnce.Do(func() { sharedVMs = newVMPool(16, 1000) })
	return sharedVMs
}

// acquire takes an idle runtime, creates one while below capacity, or
// waits for a release.
func (p *vmPool) acquire(ctx context.Context) (*pooledVM, error) {
	select {
	case vm := <-p.vms:
		return p.recycle(vm)
	default:
	}

	if int(p.currentSize.Load()) < p.maxSize {
		return p.create()
	}

	select {
	case vm := <-p.vms:
		return p.recycle(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *vmPool) recycle(vm *pooledVM) (*pooledVM, error) {
	vm.reuse++
	if vm.reuse >= p.maxReuse {
		p.currentSize.Add(-1)
		return p.create()
	}
	return vm, nil
}

// release resets the runtime and returns it. The runtime is dropped when
// discard is set, when a global cannot be removed, or when the pool is full.
func (p *vmPool) release(vm *pooledVM, discard bool) {
	vm.vm.ClearInterrupt()
	if discard || resetVM(vm) != nil {
		p.currentSize.Add(-1)
		return
	}
	select {
	case p.vms <- vm:
	default:
		p.currentSize.Add(-1)
	}
}

// resetVM deletes every global that was not present after creation.
func resetVM(vm *pooledVM) error {
	global := vm.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := vm.baseline[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to remove global %s: %w", name, err)
		}
	}
	return nil
}

func (p *vmPool) create() (*pooledVM, error) {
	vm := goja.New()
	for _, name := range []string{"require", "module", "exports", "process", "global", "Buffer", "setImmediate"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	baseline := make(map[string]struct{})
	for _, name := range vm.GlobalObject().GetOwnPropertyNames() {
		baseline[name] = struct{}{}
	}
	p.currentSize.Add(1)
	return &pooledVM{vm: vm, baseline: baseline}, nil
}

// declaresGlobals reports whether a script binds names at top level. Such
// bindings cannot be deleted, so runtimes that ran it are not reused.
func declaresGlobals(program *ast.Program) bool {
	for _, st := range program.Body {
		switch st.(type) {
		case *ast.VariableStatement, *ast.LexicalDeclaration, *ast.FunctionDeclaration, *ast.ClassDeclaration:
			return true
		}
	}
	return false
}
