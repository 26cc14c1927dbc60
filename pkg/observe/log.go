package observe

import "go.uber.org/zap"

// LogObserver writes task results to a zap logger. Failures are logged at
// error level, routed failures at warn level and successes at debug level.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a log observer.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) Observe(r TaskResult) {
	fields := []zap.Field{
		zap.String("job", r.Job),
		zap.String("source", r.Source),
		zap.String("target", r.Target),
		zap.String("flow_id", r.FlowID),
		zap.String("fork", string(r.Fork)),
		zap.Duration("duration", r.Duration),
	}
	switch r.Status {
	case StatusFailed:
		if r.RouteErr != nil {
			fields = append(fields, zap.NamedError("route_error", r.RouteErr))
		}
		l.logger.Error("fork terminated exceptionally", append(fields, zap.Error(r.Err))...)
	case StatusRouted:
		l.logger.Warn("fork routed to exception target", append(fields, zap.Error(r.Err))...)
	default:
		l.logger.Debug("fork completed", fields...)
	}
}
