package runtime

import (
	"sort"
	"sync"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// NodeCreator returns a fresh, unbound node instance.
type NodeCreator func() Node

// Factory maps node type names to creators. It is safe for concurrent use.
type Factory struct {
	creators map[string]NodeCreator
	mu       sync.RWMutex
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{creators: make(map[string]NodeCreator)}
}

// Register registers a creator for a node type, replacing any previous one.
func (f *Factory) Register(typeName string, creator NodeCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[typeName] = creator
}

// Create instantiates a node of the given type.
func (f *Factory) Create(typeName string) (Node, Shape, error) {
	f.mu.RLock()
	creator, ok := f.creators[typeName]
	f.mu.RUnlock()
	if !ok {
		return nil, 0, derrors.Validation("unknown node type %q", typeName)
	}

	n := creator()
	shape, err := ShapeOf(n)
	if err != nil {
		return nil, 0, derrors.NewError(derrors.KindValidation, "bad node implementation for "+typeName, err)
	}
	return n, shape, nil
}

// HasCreator reports whether typeName is registered.
func (f *Factory) HasCreator(typeName string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[typeName]
	return ok
}

// RegisteredTypes returns the registered type names, sorted.
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Unregister removes a type and reports whether it existed.
func (f *Factory) Unregister(typeName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creators[typeName]; ok {
		delete(f.creators, typeName)
		return true
	}
	return false
}
