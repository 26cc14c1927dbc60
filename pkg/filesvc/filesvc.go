// Package filesvc guarantees filesystem prerequisites before a node runs.
package filesvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Service creates files and directories on demand.
type Service interface {
	// EnsureFile creates path and its parent directories if missing.
	EnsureFile(ctx context.Context, path string) error
	// EnsureDirectory creates path and its parents if missing.
	EnsureDirectory(ctx context.Context, path string) error
}

// Local ensures files on the local filesystem. Concurrent calls for the same
// path are serialized.
type Local struct {
	logger *zap.Logger
	locks  sync.Map
}

// NewLocal creates a local file service.
func NewLocal(logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{logger: logger}
}

func (l *Local) lock(path string) func() {
	v, _ := l.locks.LoadOrStore(filepath.Clean(path), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (l *Local) EnsureFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer l.lock(path)()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to ensure file %s: %w", path, err)
	}
	l.logger.Debug("ensured file", zap.String("path", path))
	return f.Close()
}

func (l *Local) EnsureDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer l.lock(path)()

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory %s: %w", path, err)
	}
	l.logger.Debug("ensured directory", zap.String("path", path))
	return nil
}
