package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/publisher/memory"
)

func TestPublishSinkForwardsNotifiableEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "watch-events", nil)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ScanID: "s1", TS: now, Stage: progress.StageScanStart},
		{ScanID: "s1", TS: now, Stage: progress.StagePageFetched, Site: "ex.com"},
		{ScanID: "s1", TS: now, Stage: progress.StageScanProgress, Percent: 50},
		{ScanID: "s1", TS: now, Stage: progress.StageAlert, AlertType: "new_product", Severity: "high"},
		{ScanID: "s1", TS: now, Stage: progress.StageScanDone},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.Equal(t, "watch-events", m.Topic)
	}
	alert, ok := msgs[1].Payload.(progress.Event)
	require.True(t, ok)
	require.Equal(t, "new_product", alert.AlertType)
}

func TestPublishSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("topic not found"))
	sink := NewPublishSink(pub, "watch-events", nil)

	err := sink.Consume(context.Background(), []progress.Event{
		{ScanID: "s1", TS: time.Now(), Stage: progress.StageScanDone},
		{ScanID: "s2", TS: time.Now(), Stage: progress.StageScanError},
	})
	require.ErrorContains(t, err, "topic not found")
	require.Empty(t, pub.Messages())
}

func TestPublishSinkWithoutPublisherIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(nil, "t", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageAlert}}))
	require.NoError(t, sink.Close(context.Background()))
}
