package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/progress"
)

// LogSink writes one structured line per progress event.
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
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int64("total", evt.Total))
		case progress.StageBatchDone:
			fields = append(fields,
				zap.Int64("batch", evt.Batch),
				zap.Int64("processed", evt.Processed),
				zap.Int64("inserted", evt.Inserted),
				zap.Int64("failed", evt.Failed),
				zap.Duration("dur", evt.Dur),
			)
			if evt.ETA > 0 {
				fields = append(fields, zap.Duration("eta", evt.ETA))
			}
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields,
				zap.Int64("processed", evt.Processed),
				zap.Int64("inserted", evt.Inserted),
				zap.Int64("skipped", evt.Skipped),
				zap.Int64("failed", evt.Failed),
				zap.Duration("dur", evt.Dur),
				zap.Bool("canceled", evt.Canceled),
			)
		}
		if evt.Stage == progress.StageRunError {
			s.logger.Warn("progress event", append(fields, zap.String("note", evt.Note))...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
