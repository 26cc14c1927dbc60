package observe

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by NatsObserver.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Event is the JSON form of a TaskResult published to NATS.
type Event struct {
	Job        string `json:"job"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	FlowID     string `json:"flow_id"`
	Fork       Fork   `json:"fork"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	RouteError string `json:"route_error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// NewEvent converts a TaskResult into its wire form.
func NewEvent(r TaskResult) Event {
	e := Event{
		Job:        r.Job,
		Source:     r.Source,
		Target:     r.Target,
		FlowID:     r.FlowID,
		Fork:       r.Fork,
		Status:     r.Status,
		DurationMs: r.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if r.RouteErr != nil {
		e.RouteError = r.RouteErr.Error()
	}
	return e
}

// NatsObserver publishes task results as JSON events. After repeated
// publish failures it drops events until a cooldown has passed.
type NatsObserver struct {
	pub         Publisher
	subject     string
	onlyFailing bool
	logger      *zap.Logger
	breaker     *breaker
	dropped     atomic.Int64
}

// NewNatsObserver publishes to subject. When onlyFailing is set successful
// branches are not published.
func NewNatsObserver(pub Publisher, subject string, onlyFailing bool, logger *zap.Logger) *NatsObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NatsObserver{
		pub:         pub,
		subject:     subject,
		onlyFailing: onlyFailing,
		logger:      logger,
		breaker:     newBreaker(5, 30*time.Second),
	}
}

// Dropped is the number of events skipped while publishing was suspended.
func (n *NatsObserver) Dropped() int64 { return n.dropped.Load() }

func (n *NatsObserver) Observe(r TaskResult) {
	if n.onlyFailing && r.Status == StatusSucceeded {
		return
	}
	data, err := json.Marshal(NewEvent(r))
	if err != nil {
		n.logger.Error("failed to encode task result", zap.Error(err))
		return
	}
	if !n.breaker.allow() {
		n.dropped.Add(1)
		return
	}

	err = n.pub.Publish(n.subject, data)
	if err != nil {
		n.logger.Warn("failed to publish task result",
			zap.String("subject", n.subject),
			zap.Error(err))
	}
	if from, to, changed := n.breaker.record(err); changed {
		n.logger.Info("task result publishing state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int64("dropped", n.dropped.Load()))
	}
}
