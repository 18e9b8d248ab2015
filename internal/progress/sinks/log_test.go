package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()

	err := sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindLog, TS: now, Level: "warn", Message: "pop failed", WorkerID: "acme-1"},
		{Kind: progress.KindLog, TS: now, Level: "nonsense", Message: "restored 3 jobs"},
		{Kind: progress.KindJob, TS: now, JobID: "j1", Outcome: progress.OutcomeFailed, Message: "boom"},
		{Kind: progress.KindQueue, TS: now, Vendor: "acme", Queue: &progress.QueueState{Size: 2}},
	})
	require.NoError(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, "job failed", entries[2].Message)
	require.Equal(t, "boom", entries[2].ContextMap()["error"])
	require.Equal(t, "queue changed", entries[3].Message)
}
