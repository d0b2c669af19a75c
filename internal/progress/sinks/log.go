// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/progress"
)

// LogSink emits structured logs for pipeline events. Useful during
// development or audits where metrics alone are too coarse.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	s.logger.Info("pipeline event",
		zap.String("job_id", evt.JobID),
		zap.String("stage", string(evt.Stage)),
		zap.String("job_type", evt.JobType),
		zap.Duration("dur", evt.Dur),
		zap.Int("processed", evt.Processed),
		zap.String("note", evt.Note),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
