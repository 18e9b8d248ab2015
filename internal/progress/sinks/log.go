package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink writes every event as a structured log line.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindWorker:
			s.logger.Debug("worker changed",
				zap.String("worker_id", evt.WorkerID),
				zap.String("field", evt.Field),
				zap.Any("value", evt.Value),
			)
		case progress.KindQueue:
			s.logger.Debug("queue changed",
				zap.String("vendor", evt.Vendor),
				zap.Int("size", evt.Queue.Size),
				zap.Strings("head", evt.Queue.Head),
			)
		case progress.KindJob:
			fields := []zap.Field{
				zap.String("worker_id", evt.WorkerID),
				zap.String("vendor", evt.Vendor),
				zap.String("job_id", evt.JobID),
				zap.String("kind", evt.JobKind),
				zap.String("outcome", string(evt.Outcome)),
			}
			if evt.Outcome != progress.OutcomeStarted {
				fields = append(fields, zap.Int("followups", evt.Followups), zap.Duration("dur", evt.Dur))
			}
			if evt.Message != "" {
				fields = append(fields, zap.String("error", evt.Message))
			}
			s.logger.Info("job "+string(evt.Outcome), fields...)
		case progress.KindLog:
			s.logger.Log(parseLevel(evt.Level), evt.Message,
				zap.String("worker_id", evt.WorkerID),
				zap.String("vendor", evt.Vendor),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
