// Package observe delivers the outcome of forked executions.
//
// Forked branches never report back to the node that started them. Instead
// every branch produces a TaskResult which is handed to an Observer.
package observe

import (
	"sync"
	"time"
)

// Fork distinguishes fire-and-forget branches from joinable ones.
type Fork string

const (
	ForkDispatch Fork = "dispatch"
	ForkDepend   Fork = "depend"
	// TopLevel is the entry task of a job.
	TopLevel Fork = "job"
)

// Status is the outcome of a branch.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusRouted means the branch failed and the flow was handed to the
	// configured exception target.
	StatusRouted Status = "routed"
)

// TaskResult describes one completed branch.
type TaskResult struct {
	Job      string
	Source   string
	Target   string
	FlowID   string
	Fork     Fork
	Status   Status
	Err      error
	RouteErr error
	Duration time.Duration
}

// Failed reports whether the branch ended without a usable result.
func (r TaskResult) Failed() bool {
	return r.Status == StatusFailed
}

// Observer consumes task results. Implementations must be safe for
// concurrent use.
type Observer interface {
	Observe(TaskResult)
}

// Func adapts a function to Observer.
type Func func(TaskResult)

func (f Func) Observe(r TaskResult) { f(r) }

type nop struct{}

func (nop) Observe(TaskResult) {}

// Nop discards every result.
var Nop Observer = nop{}

// Multi fans results out to several observers.
func Multi(observers ...Observer) Observer {
	flat := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			flat = append(flat, o)
		}
	}
	return multi(flat)
}

type multi []Observer

func (m multi) Observe(r TaskResult) {
	for _, o := range m {
		o.Observe(r)
	}
}

// Recorder keeps every result in memory.
type Recorder struct {
	mu      sync.Mutex
	results []TaskResult
}

func (r *Recorder) Observe(res TaskResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Results returns a copy of the recorded results.
func (r *Recorder) Results() []TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskResult, len(r.results))
	copy(out, r.results)
	return out
}
