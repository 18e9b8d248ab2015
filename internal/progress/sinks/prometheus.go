package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports worker-pool state via Prometheus collectors.
type PrometheusSink struct {
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	followups     *prometheus.CounterVec
	workerLoading *prometheus.GaugeVec
	workerActive  *prometheus.GaugeVec
	queuePending  *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Job executions partitioned by vendor, kind and outcome.",
		}, []string{"vendor", "kind", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_job_duration_seconds",
			Help:    "Wall time per finished job execution.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
		}, []string{"vendor", "kind", "outcome"}),
		followups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_followup_jobs_total",
			Help: "Jobs pushed as follow-ups of successful executions.",
		}, []string{"vendor"}),
		workerLoading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_worker_loading",
			Help: "1 while the worker is executing a job.",
		}, []string{"worker_id"}),
		workerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_worker_active",
			Help: "1 unless the worker is paused.",
		}, []string{"worker_id"}),
		queuePending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_queue_pending",
			Help: "Pending jobs per vendor as of the last queue notification.",
		}, []string{"vendor"}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsTotal,
		s.jobDuration,
		s.followups,
		s.workerLoading,
		s.workerActive,
		s.queuePending,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindJob:
			s.handleJob(evt)
		case progress.KindWorker:
			s.handleWorker(evt)
		case progress.KindQueue:
			s.queuePending.WithLabelValues(evt.Vendor).Set(float64(evt.Queue.Size))
		}
	}
	return nil
}

func (s *PrometheusSink) handleJob(evt progress.Event) {
	s.jobsTotal.WithLabelValues(evt.Vendor, evt.JobKind, string(evt.Outcome)).Inc()
	if evt.Outcome == progress.OutcomeStarted {
		return
	}
	if evt.Dur > 0 {
		s.jobDuration.WithLabelValues(evt.Vendor, evt.JobKind, string(evt.Outcome)).Observe(evt.Dur.Seconds())
	}
	if evt.Followups > 0 {
		s.followups.WithLabelValues(evt.Vendor).Add(float64(evt.Followups))
	}
}

func (s *PrometheusSink) handleWorker(evt progress.Event) {
	switch evt.Field {
	case "state":
		s.workerLoading.WithLabelValues(evt.WorkerID).Set(boolGauge(fmt.Sprint(evt.Value) == "loading"))
	case "active":
		active, _ := evt.Value.(bool)
		s.workerActive.WithLabelValues(evt.WorkerID).Set(boolGauge(active))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
