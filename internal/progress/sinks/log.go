package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/crawlkit/deepcrawl/internal/progress"
)

// LogSink emits structured logs for the progress stream. Useful during
// development and for audits of a crawl run.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.Int("depth", evt.Depth),
			zap.Float64("score", evt.Score),
			zap.String("proxy", evt.Proxy),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *LogSink) Close(_ context.Context) error {
	return nil
}
