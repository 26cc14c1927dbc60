package pool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksTotal counts tasks by pool and outcome
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daedalus_pool_tasks_total",
		Help: "Total pool tasks by pool and outcome",
	}, []string{"pool", "outcome"})

	// taskDuration tracks task run time
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "daedalus_pool_task_duration_seconds",
		Help:    "Pool task run time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"pool"})

	// queueWait tracks how long a task waited for a worker
	queueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "daedalus_pool_queue_wait_seconds",
		Help:    "Time between submission and start of a pool task",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"pool"})

	// workersGauge reports started workers per pool
	workersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "daedalus_pool_workers",
		Help: "Started workers per pool",
	}, []string{"pool"})
)

// Stats holds in-process counters for one pool.
type Stats struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	blocked   atomic.Int64
	active    atomic.Int64
	totalTime atomic.Int64
}

// Snapshot is a point-in-time view of pool statistics.
type Snapshot struct {
	Workers   int
	Submitted int64
	Completed int64
	Failed    int64
	Blocked   int64
	Active    int64
	TotalTime time.Duration
}

func (s *Stats) snapshot(workers int) Snapshot {
	return Snapshot{
		Workers:   workers,
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Blocked:   s.blocked.Load(),
		Active:    s.active.Load(),
		TotalTime: time.Duration(s.totalTime.Load()),
	}
}

// AverageTaskTime returns the average run time of completed tasks.
func (s Snapshot) AverageTaskTime() time.Duration {
	if s.Completed == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Completed)
}

// ErrorRate returns the failure rate as a percentage.
func (s Snapshot) ErrorRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total) * 100
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Pool Stats: Workers=%d, Submitted=%d, Completed=%d, Failed=%d, Blocked=%d, Active=%d",
		s.Workers, s.Submitted, s.Completed, s.Failed, s.Blocked, s.Active)
}
