package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
)

// LogSink writes run events as structured logs. Record-level events go to
// debug so a full crawl does not flood info output.
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
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", evt.Kind))
		}
		if evt.Year > 0 {
			fields = append(fields, zap.Int("year", evt.Year))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		if evt.Cert != "" {
			fields = append(fields, zap.String("cert_number", evt.Cert))
		}
		if evt.Count > 0 {
			fields = append(fields, zap.Int64("count", evt.Count))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		for k, v := range evt.Totals {
			fields = append(fields, zap.Int64(k, v))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageFetchError, progress.StageStoreError:
		return zapcore.WarnLevel
	case progress.StageRecordNew, progress.StageRecordSkipped, progress.StageParseError,
		progress.StageRatingFixed, progress.StageRatingUnresolved, progress.StagePageDone:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
