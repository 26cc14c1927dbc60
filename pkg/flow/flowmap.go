// Package flow provides FlowMap, the typed key/value context threaded
// through node execution.
//
// Every value written to a FlowMap carries a type descriptor. Reads through
// Lookup are checked against the descriptor: widening is silent, narrowing
// logs a warning and contradictions fail with a template error.
package flow

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

// FlowMap is a mutable, typed execution context. The value map and type
// map are each safe for concurrent use; logical ownership of one FlowMap
// belongs to a single branch, and branches that mutate independently must
// Copy first.
type FlowMap struct {
	values *store[any]
	types  *store[typedesc.Type]

	id             uuid.UUID
	parentID       uuid.UUID
	parentSequence int64
	hasParent      bool
	sequence       atomic.Int64

	logger *zap.Logger
}

// Option configures a new FlowMap.
type Option func(*FlowMap)

// WithLogger sets the logger used for narrowing warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(fm *FlowMap) {
		if logger != nil {
			fm.logger = logger
		}
	}
}

// New creates an empty origin flow with a fresh identity.
func New(opts ...Option) *FlowMap {
	fm := &FlowMap{
		values: newStore[any](),
		types:  newStore[typedesc.Type](),
		id:     uuid.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fm)
	}
	return fm
}

// FromMap creates an origin flow holding the given entries. It fails if any
// value has no inferable type.
func FromMap(entries map[string]any, opts ...Option) (*FlowMap, error) {
	fm := New(opts...)
	for _, k := range sortedKeys(entries) {
		if err := fm.Output(k, entries[k]); err != nil {
			return nil, err
		}
	}
	return fm, nil
}

// ID returns the identity of this flow.
func (fm *FlowMap) ID() uuid.UUID { return fm.id }

// ParentID returns the identity of the flow this one was derived from.
func (fm *FlowMap) ParentID() (uuid.UUID, bool) { return fm.parentID, fm.hasParent }

// ParentSequence returns the parent's sequence at the time of derivation.
func (fm *FlowMap) ParentSequence() (int64, bool) { return fm.parentSequence, fm.hasParent }

// Sequence returns the own sequence counter.
func (fm *FlowMap) Sequence() int64 { return fm.sequence.Load() }

// NextSequence advances the own sequence counter and returns the new value.
func (fm *FlowMap) NextSequence() int64 { return fm.sequence.Add(1) }

// Get returns the value at location.
func (fm *FlowMap) Get(location string) (any, bool) {
	return fm.values.get(location)
}

// Type returns the descriptor recorded for location.
func (fm *FlowMap) Type(location string) (typedesc.Type, bool) {
	return fm.types.get(location)
}

// Put writes a value without failing. If the value has no inferable type it
// is recorded as Any.
func (fm *FlowMap) Put(location string, value any) {
	t, err := typedesc.Infer(value)
	if err != nil {
		fm.logger.Debug("storing value with unknown type",
			zap.String("location", location),
			zap.Error(err))
		t = typedesc.Any
	}
	fm.types.put(location, t)
	fm.values.put(location, value)
}

// Output writes a value after inferring its type. The write is rejected if
// inference fails, for example for a list with mixed element types.
func (fm *FlowMap) Output(location string, value any) error {
	t, err := typedesc.Infer(value)
	if err != nil {
		fm.logger.Error("could not infer type",
			zap.String("location", location),
			zap.Error(err))
		return derrors.NewError(derrors.KindTypeInference,
			fmt.Sprintf("could not infer type for key %q and value %v", location, value), err)
	}
	fm.types.put(location, t)
	fm.values.put(location, value)
	return nil
}

// Remove deletes location. Unknown keys are ignored.
func (fm *FlowMap) Remove(location string) {
	fm.values.remove(location)
	fm.types.remove(location)
}

// Clear removes every entry.
func (fm *FlowMap) Clear() {
	fm.values.clear()
	fm.types.clear()
}

// Keys returns all locations in sorted order.
func (fm *FlowMap) Keys() []string {
	return sortedKeys(fm.values.snapshot())
}

// Size returns the number of entries.
func (fm *FlowMap) Size() int {
	return fm.values.len()
}

// Snapshot returns a copy of the value map.
func (fm *FlowMap) Snapshot() map[string]any {
	out := fm.values.snapshot()
	for k, v := range out {
		out[k] = deepCopy(v)
	}
	return out
}

// Lookup implements template.Context.
func (fm *FlowMap) Lookup(location string, want typedesc.Type) (any, bool, error) {
	v, ok := fm.values.get(location)
	if !ok || v == nil {
		return nil, false, nil
	}
	known, ok := fm.types.get(location)
	if !ok {
		known = typedesc.Any
	}

	switch {
	case want.Accepts(known):
		return v, true, nil
	case known.Accepts(want) && typedesc.Conforms(v, want):
		if !isEmptyCollection(v) {
			fm.logger.Warn("narrowing type on read",
				zap.String("location", location),
				zap.String("known", known.String()),
				zap.String("wanted", want.String()))
		}
		return v, true, nil
	}
	return nil, false, derrors.Template("bad typing at key %q: known %s, wanted %s", location, known, want)
}

// Eval evaluates term against this flow. An absent result is a template error.
func (fm *FlowMap) Eval(term template.Term) (any, error) {
	v, ok, err := term.Eval(fm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, derrors.Template("template %s evaluated to nothing", term)
	}
	return v, nil
}

// EvalOrDefault evaluates term, returning def when the result is absent.
func (fm *FlowMap) EvalOrDefault(term template.Term, def any) (any, error) {
	v, ok, err := fm.EvalMaybe(term)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// EvalMaybe evaluates term. A nil term is absent.
func (fm *FlowMap) EvalMaybe(term template.Term) (any, bool, error) {
	if term == nil {
		return nil, false, nil
	}
	return term.Eval(fm)
}

// EvalIdentity evaluates term without any runtime data. Only constant parts
// of the term resolve.
func (fm *FlowMap) EvalIdentity(term template.Term) (any, error) {
	return EvalIdentity(term)
}

// EvalIdentity evaluates term against the identity context.
func EvalIdentity(term template.Term) (any, error) {
	v, ok, err := term.Eval(template.Identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, derrors.Template("template %s is not constant", term)
	}
	return v, nil
}

// Copy returns an independent flow with the same entries and type
// descriptors, the same parent linkage and a new identity.
func (fm *FlowMap) Copy() *FlowMap {
	c := fm.derive(uuid.New())
	c.parentID = fm.parentID
	c.parentSequence = fm.parentSequence
	c.hasParent = fm.hasParent
	c.sequence.Store(fm.sequence.Load())
	return c
}

// NewFlow returns a child flow with the same entries and a new identity
// whose parent is this flow at its current sequence.
func (fm *FlowMap) NewFlow() *FlowMap {
	c := fm.derive(uuid.New())
	c.parentID = fm.id
	c.parentSequence = fm.sequence.Load()
	c.hasParent = true
	return c
}

func (fm *FlowMap) derive(id uuid.UUID) *FlowMap {
	c := &FlowMap{
		values: newStore[any](),
		types:  newStore[typedesc.Type](),
		id:     id,
		logger: fm.logger,
	}
	for k, v := range fm.values.snapshot() {
		c.values.put(k, deepCopy(v))
	}
	for k, t := range fm.types.snapshot() {
		c.types.put(k, t)
	}
	return c
}

// SameIdentity reports whether both flows carry the same identity.
func (fm *FlowMap) SameIdentity(other *FlowMap) bool {
	return other != nil && fm.id == other.id
}

// Equal reports structural equality of the value maps. Identity and parent
// linkage are ignored.
func (fm *FlowMap) Equal(other *FlowMap) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(fm.values.snapshot(), other.values.snapshot())
}

func (fm *FlowMap) String() string {
	snap := fm.values.snapshot()
	parts := make([]string, 0, len(snap))
	for _, k := range sortedKeys(snap) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, snap[k]))
	}
	return fmt.Sprintf("{%s} [%s]", strings.Join(parts, ", "), fm.id)
}

func isEmptyCollection(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// store is a mutex-guarded map.
type store[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

func newStore[V any]() *store[V] {
	return &store[V]{m: make(map[string]V)}
}

func (s *store[V]) get(k string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

func (s *store[V]) put(k string, v V) {
	s.mu.Lock()
	s.m[k] = v
	s.mu.Unlock()
}

func (s *store[V]) remove(k string) {
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

func (s *store[V]) clear() {
	s.mu.Lock()
	s.m = make(map[string]V)
	s.mu.Unlock()
}

func (s *store[V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *store[V]) snapshot() map[string]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]V, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
