package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jackmmaher/appscout/internal/progress"
)

// PrometheusSink exports pipeline metrics. It owns the collectors for job
// throughput, handler latency, and drain batch sizes.
type PrometheusSink struct {
	jobsEnqueued   *prometheus.CounterVec
	jobsDeduped    *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	handlerSeconds *prometheus.HistogramVec
	drainSeconds   prometheus.Histogram
	drainBatchSize prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_enqueued_total",
			Help: "Jobs accepted by the enqueue gate, partitioned by type.",
		}, []string{"type"}),
		jobsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_deduped_total",
			Help: "Enqueue calls suppressed by an active duplicate, partitioned by type.",
		}, []string{"type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_finished_total",
			Help: "Jobs reaching a terminal state, partitioned by type and result.",
		}, []string{"type", "result"}),
		handlerSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_handler_duration_seconds",
			Help:    "Handler wall time per job, partitioned by type.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"type"}),
		drainSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_drain_duration_seconds",
			Help:    "Wall time per drain invocation.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}),
		drainBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_drain_batch_size",
			Help:    "Jobs processed per drain invocation.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsEnqueued,
		s.jobsDeduped,
		s.jobsFinished,
		s.handlerSeconds,
		s.drainSeconds,
		s.drainBatchSize,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register pipeline collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from a single event.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobEnqueued:
		s.jobsEnqueued.WithLabelValues(evt.JobType).Inc()
	case progress.StageJobDeduped:
		s.jobsDeduped.WithLabelValues(evt.JobType).Inc()
	case progress.StageJobDone:
		s.jobsFinished.WithLabelValues(evt.JobType, "completed").Inc()
		s.handlerSeconds.WithLabelValues(evt.JobType).Observe(evt.Dur.Seconds())
	case progress.StageJobError:
		s.jobsFinished.WithLabelValues(evt.JobType, "failed").Inc()
		s.handlerSeconds.WithLabelValues(evt.JobType).Observe(evt.Dur.Seconds())
	case progress.StageJobCancel:
		s.jobsFinished.WithLabelValues(evt.JobType, "cancelled").Inc()
	case progress.StageDrainDone:
		s.drainSeconds.Observe(evt.Dur.Seconds())
		s.drainBatchSize.Observe(float64(evt.Processed))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
