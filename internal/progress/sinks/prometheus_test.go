package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{Kind: progress.KindJob, TS: now, Vendor: "acme", JobID: "j1", JobKind: "LIST", Outcome: progress.OutcomeStarted},
		{Kind: progress.KindJob, TS: now, Vendor: "acme", JobID: "j1", JobKind: "LIST", Outcome: progress.OutcomeSucceeded, Followups: 3, Dur: 2 * time.Second},
		{Kind: progress.KindJob, TS: now, Vendor: "acme", JobID: "j2", JobKind: "PROCESS_ITEM", Outcome: progress.OutcomeFailed, Dur: time.Second},
		{Kind: progress.KindWorker, TS: now, WorkerID: "acme-1", Field: "state", Value: crawler.WorkerLoading},
		{Kind: progress.KindWorker, TS: now, WorkerID: "acme-1", Field: "active", Value: true},
		{Kind: progress.KindQueue, TS: now, Vendor: "acme", Queue: &progress.QueueState{Size: 7}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsTotal.WithLabelValues("acme", "LIST", "started")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsTotal.WithLabelValues("acme", "LIST", "succeeded")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsTotal.WithLabelValues("acme", "PROCESS_ITEM", "failed")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.followups.WithLabelValues("acme")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.workerLoading.WithLabelValues("acme-1")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.workerActive.WithLabelValues("acme-1")), 1e-9)
	require.InDelta(t, 7.0, testutil.ToFloat64(sink.queuePending.WithLabelValues("acme")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobDuration, "crawler_job_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindWorker, TS: now, WorkerID: "acme-1", Field: "state", Value: crawler.WorkerIdle},
		{Kind: progress.KindWorker, TS: now, WorkerID: "acme-1", Field: "active", Value: false},
	}))
	require.Zero(t, testutil.ToFloat64(sink.workerLoading.WithLabelValues("acme-1")))
	require.Zero(t, testutil.ToFloat64(sink.workerActive.WithLabelValues("acme-1")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
