package observe

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func failed() TaskResult {
	return TaskResult{
		Job:      "job",
		Source:   "<job.g.0>",
		Target:   "g.end",
		FlowID:   "f-1",
		Fork:     ForkDispatch,
		Status:   StatusFailed,
		Err:      errors.New("boom"),
		Duration: 1500 * time.Millisecond,
	}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	var calls int
	m := Multi(a, nil, b, Func(func(TaskResult) { calls++ }))
	m.Observe(failed())
	m.Observe(TaskResult{Status: StatusSucceeded})

	assert.Len(t, a.Results(), 2)
	assert.Len(t, b.Results(), 2)
	assert.Equal(t, 2, calls)
	assert.True(t, a.Results()[0].Failed())
	assert.False(t, a.Results()[1].Failed())
	Nop.Observe(failed())
}

func TestLogObserverLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	o := NewLogObserver(zap.New(core))

	o.Observe(failed())
	routed := failed()
	routed.Status = StatusRouted
	o.Observe(routed)
	o.Observe(TaskResult{Status: StatusSucceeded})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.DebugLevel, entries[2].Level)
}

func TestNatsObserverPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	o := NewNatsObserver(pub, "daedalus.results", true, nil)

	o.Observe(TaskResult{Status: StatusSucceeded})
	o.Observe(failed())

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "daedalus.results", pub.subjects[0])

	var ev Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, int64(1500), ev.DurationMs)
	assert.Equal(t, ForkDispatch, ev.Fork)
}

func TestNatsObserverSurvivesPublishErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &fakePublisher{err: errors.New("disconnected")}
	NewNatsObserver(pub, "s", false, zap.New(core)).Observe(failed())
	assert.Equal(t, 1, logs.FilterMessage("failed to publish task result").Len())
}

func TestSentryObserverCapturesFailures(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	o := NewSentryObserver(hub)
	o.Observe(TaskResult{Status: StatusSucceeded})
	o.Observe(failed())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "job", events[0].Tags["job"])
}

func TestNatsObserverSuspendsAfterFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disconnected")}
	o := NewNatsObserver(pub, "s", false, zap.NewNop())
	now := time.Unix(1000, 0)
	o.breaker.now = func() time.Time { return now }

	for i := 0; i < 8; i++ {
		o.Observe(failed())
	}
	assert.Len(t, pub.payloads, 5)
	assert.Equal(t, int64(3), o.Dropped())

	// one probe after the cooldown; it succeeds and closes the circuit
	now = now.Add(31 * time.Second)
	pub.err = nil
	o.Observe(failed())
	o.Observe(failed())
	assert.Len(t, pub.payloads, 7)
	assert.Equal(t, breakerClosed, o.breaker.state)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, time.Second)
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	require.True(t, b.allow())
	_, to, changed := b.record(errors.New("x"))
	assert.True(t, changed)
	assert.Equal(t, breakerOpen, to)
	assert.False(t, b.allow())

	now = now.Add(2 * time.Second)
	assert.True(t, b.allow())
	assert.False(t, b.allow(), "only one probe while half-open")
	_, to, _ = b.record(errors.New("x"))
	assert.Equal(t, breakerOpen, to)
	assert.Equal(t, "open", to.String())
}
