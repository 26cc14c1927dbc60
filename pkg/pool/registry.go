// Package pool provides named, lazily created worker pools with blocking
// backpressure.
//
// Nodes that reference the same group share one pool. The first request for
// a group fixes its size.
package pool

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	// MaxDisplayThreads is the largest pool size the log layout assumes.
	MaxDisplayThreads = 999
	// MaxDisplayGroup is the longest group name the log layout assumes.
	MaxDisplayGroup = 8
)

// Registry maps group names to pools.
type Registry struct {
	mu     sync.Mutex
	pools  map[string]*Pool
	logger *zap.Logger

	warnThreads sync.Once
	warnGroup   sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pools:  make(map[string]*Pool),
		logger: logger,
	}
}

// Get returns the pool for group, creating it with size workers on first
// request. Later requests ignore size.
func (r *Registry) Get(group string, size int) *Pool {
	if size < 1 {
		size = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[group]; ok {
		return p
	}

	if size > MaxDisplayThreads {
		r.warnThreads.Do(func() {
			r.logger.Warn("more than 999 threads per pool are not supported by the log layout",
				zap.String("group", group), zap.Int("threads", size))
		})
	}
	if len(group) > MaxDisplayGroup {
		r.warnGroup.Do(func() {
			r.logger.Warn("pool group names longer than 8 characters are not supported by the log layout",
				zap.String("group", group))
		})
	}

	p := newPool(group, size, r.logger)
	r.pools[group] = p
	r.logger.Debug("created pool", zap.String("group", group), zap.Int("threads", size))
	return p
}

// Groups returns the names of all created pools.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pools))
	for g := range r.pools {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Close closes every pool, waiting for queued tasks to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
