package observe

import (
	"github.com/getsentry/sentry-go"
)

// SentryObserver reports failed branches to Sentry. Successful and routed
// branches are ignored.
type SentryObserver struct {
	hub *sentry.Hub
}

// NewSentryObserver reports through hub, or the current hub when nil.
func NewSentryObserver(hub *sentry.Hub) *SentryObserver {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryObserver{hub: hub}
}

func (s *SentryObserver) Observe(r TaskResult) {
	if !r.Failed() || r.Err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", r.Job)
		scope.SetTag("fork", string(r.Fork))
		scope.SetTag("target", r.Target)
		scope.SetContext("branch", sentry.Context{
			"source":      r.Source,
			"flow_id":     r.FlowID,
			"duration_ms": r.Duration.Milliseconds(),
		})
		s.hub.CaptureException(r.Err)
	})
}
