package progress

import "go.uber.org/zap"

// LoggerSink writes progress events to a zap logger.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink returns a sink logging at info level.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerSink{logger: logger}
}

// Publish implements Sink.
func (s *LoggerSink) Publish(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("phase", event.Phase),
		zap.String("action", string(event.Action)),
	}
	if event.MaxIterations > 0 {
		fields = append(fields,
			zap.Int("iteration", event.Iteration),
			zap.Int("max_iterations", event.MaxIterations),
		)
	}
	if event.Detail != "" {
		fields = append(fields, zap.String("detail", event.Detail))
	}
	if event.Elapsed > 0 {
		fields = append(fields, zap.Duration("elapsed", event.Elapsed))
	}
	s.logger.Info("workflow progress", fields...)
}
