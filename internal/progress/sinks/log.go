package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

// LogSink writes progress events to a zap logger at debug level, with
// terminal stages at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int64("start", evt.StartID), zap.Int64("end", evt.EndID))
		case progress.StageItemDone:
			fields = append(fields,
				zap.Int64("id", evt.ArticleID),
				zap.String("outcome", evt.Outcome),
				zap.Int("attempts", evt.Attempts),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageItemDone {
			s.logger.Debug("progress event", fields...)
		} else {
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
