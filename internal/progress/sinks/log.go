package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/competitor-watch/internal/progress"
)

// LogSink writes scan events to a zap logger. Page traffic logs at debug,
// scan lifecycle at info, and failures and high or critical alerts at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := levelFor(evt)
		ce := s.logger.Check(level, "scan event")
		if ce == nil {
			continue
		}
		ce.Write(eventFields(evt)...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(evt progress.Event) zapcore.Level {
	switch evt.Stage {
	case progress.StagePageFetched, progress.StagePageSkipped, progress.StageScanProgress:
		return zapcore.DebugLevel
	case progress.StagePageFailed, progress.StageScanError:
		return zapcore.WarnLevel
	case progress.StageAlert:
		if evt.Severity == "high" || evt.Severity == "critical" {
			return zapcore.WarnLevel
		}
	}
	return zapcore.InfoLevel
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{zap.String("stage", string(evt.Stage))}
	for _, kv := range [][2]string{
		{"scan_id", evt.ScanID},
		{"competitor_id", evt.CompetitorID},
		{"site", evt.Site},
		{"url", evt.URL},
		{"note", evt.Note},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	switch evt.Stage {
	case progress.StageScanProgress:
		fields = append(fields, zap.Int("percent", evt.Percent), zap.Int("pages_crawled", evt.PagesCrawled))
	case progress.StagePageFetched, progress.StagePageFailed:
		fields = append(fields,
			zap.Int64("bytes", evt.Bytes),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Duration("dur", evt.Dur),
		)
	case progress.StageAlert:
		fields = append(fields,
			zap.String("alert_type", evt.AlertType),
			zap.String("severity", evt.Severity),
			zap.String("title", evt.Title),
		)
	}
	return fields
}
