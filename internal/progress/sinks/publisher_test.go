package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
)

func TestPublisherSinkForwardsEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublisherSink(pub, "crawler-events")
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindQueue, TS: ts, Vendor: "acme", Queue: &progress.QueueState{Size: 2, Head: []string{"https://acme.example/a"}}},
		{Kind: progress.KindWorker, TS: ts, WorkerID: "acme-1", Field: "progress", Value: 0.5},
	})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawler-events", msgs[0].Topic)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "queue", decoded["kind"])
	require.Equal(t, map[string]any{"size": float64(2), "head": []any{"https://acme.example/a"}}, decoded["queue"])
}

func TestPublisherSinkReportsFailures(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink, err := NewPublisherSink(pub, "crawler-events")
	require.NoError(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindLog, TS: time.Now(), Message: "a"},
		{Kind: progress.KindLog, TS: time.Now(), Message: "b"},
	})
	require.ErrorContains(t, err, "publish 2 of 2 events")
}

func TestNewPublisherSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, "t")
	require.Error(t, err)
	_, err = NewPublisherSink(memory.New(), "")
	require.Error(t, err)
}
