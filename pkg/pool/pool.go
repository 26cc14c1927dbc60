package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("pool is closed")

// Task is a unit of work run by a pool worker. Its error only feeds the
// pool statistics; callers that need the result capture it themselves.
type Task func(ctx context.Context) error

// Pool is a bounded worker pool. It runs at most size tasks at once and
// queues at most size more; Submit blocks while the queue is full.
type Pool struct {
	name    string
	size    int
	jobChan chan workerJob
	wg      sync.WaitGroup
	logger  *zap.Logger

	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	workers int

	stats *Stats
}

// workerJob represents a job to be processed by a worker.
type workerJob struct {
	task     Task
	ctx      context.Context
	enqueued time.Time
}

func newPool(name string, size int, logger *zap.Logger) *Pool {
	return &Pool{
		name:    name,
		size:    size,
		jobChan: make(chan workerJob, size),
		logger:  logger.With(zap.String("pool", name)),
		stats:   &Stats{},
	}
}

// Name returns the group name of the pool.
func (p *Pool) Name() string { return p.name }

// Size returns the fixed worker count of the pool.
func (p *Pool) Size() int { return p.size }

// Submit enqueues task. Workers are started on demand up to the pool size.
// When the queue is full Submit blocks until space frees up or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: %s", ErrClosed, p.name)
	}

	p.mu.Lock()
	if p.workers < p.size {
		p.workers++
		p.wg.Add(1)
		go p.worker(p.workers)
		workersGauge.WithLabelValues(p.name).Inc()
	}
	p.mu.Unlock()

	job := workerJob{task: task, ctx: ctx, enqueued: time.Now()}
	select {
	case p.jobChan <- job:
	default:
		p.stats.blocked.Add(1)
		p.logger.Debug("pool queue full, blocking submitter", zap.Int("size", p.size))
		select {
		case p.jobChan <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.stats.submitted.Add(1)
	tasksTotal.WithLabelValues(p.name, "submitted").Inc()
	return nil
}

// worker is a single worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for job := range p.jobChan {
		p.run(job)
	}

	p.logger.Debug("worker stopping, job channel closed", zap.Int("worker_id", id))
}

func (p *Pool) run(job workerJob) {
	p.stats.active.Add(1)
	defer p.stats.active.Add(-1)
	start := time.Now()
	queueWait.WithLabelValues(p.name).Observe(start.Sub(job.enqueued).Seconds())

	err := p.safeRun(job)
	elapsed := time.Since(start)
	taskDuration.WithLabelValues(p.name).Observe(elapsed.Seconds())

	if err != nil {
		p.stats.failed.Add(1)
		tasksTotal.WithLabelValues(p.name, "failed").Inc()
		return
	}
	p.stats.completed.Add(1)
	p.stats.totalTime.Add(elapsed.Nanoseconds())
	tasksTotal.WithLabelValues(p.name, "completed").Inc()
}

func (p *Pool) safeRun(job workerJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return job.task(job.ctx)
}

// Close stops accepting work, drains the queue and waits for workers.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobChan)
	p.closeMu.Unlock()

	p.wg.Wait()
	workersGauge.DeleteLabelValues(p.name)
}

// Stats returns the current processing statistics.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return p.stats.snapshot(workers)
}
