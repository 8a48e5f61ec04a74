package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

// PublishSink forwards alerts and scan outcomes to a topic. Page-level and
// progress events stay local.
type PublishSink struct {
	publisher store.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink constructs a PublishSink for topic.
func NewPublishSink(publisher store.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes every notifiable event in the batch. Individual failures
// are collected so one bad publish does not hide the rest.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !notifiable(evt.Stage) {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
			continue
		}
		s.logger.Debug("published progress event",
			zap.String("message_id", id),
			zap.String("stage", string(evt.Stage)),
			zap.String("scan_id", evt.ScanID),
		)
	}
	return errors.Join(errs...)
}

func notifiable(stage progress.Stage) bool {
	switch stage {
	case progress.StageAlert, progress.StageScanStart, progress.StageScanDone, progress.StageScanError:
		return true
	}
	return false
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
