// Package metrics wires up the Prometheus instrumentation exposed via
// promhttp.Handler() on a dedicated metrics listener, with the
// counters/histograms the job queue, the pub/sub notifier, and the
// ingestion engine need.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles every metric pipelinehub registers, constructed once at
// program start and threaded through the worker pool, notifier, and
// ingestion engine as an explicit dependency (never a package global).
type Collectors struct {
	JobsClaimed      *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	TaskFailures     *prometheus.CounterVec
	NotifyFanout     prometheus.Histogram
	NotifySubscriber *prometheus.GaugeVec
	IngestRecords    *prometheus.CounterVec
	IngestBytes      *prometheus.CounterVec
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		JobsClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinehub_jobs_claimed_total",
			Help: "System jobs claimed by a worker, by task_class.",
		}, []string{"task_class"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipelinehub_job_duration_seconds",
			Help:    "Wall-clock duration of a System task's run function.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_id", "outcome"}),
		TaskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinehub_task_failures_total",
			Help: "PipelineRunTask transitions to Failed, by task_id.",
		}, []string{"task_id"}),
		NotifyFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipelinehub_notify_fanout_size",
			Help:    "Number of subscribers a single notification was delivered to.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		NotifySubscriber: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinehub_notify_subscribers",
			Help: "Current subscriber count per channel.",
		}, []string{"channel"}),
		IngestRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinehub_ingest_records_total",
			Help: "Records analyzed or loaded, by loader_type and phase (analyze|load).",
		}, []string{"loader_type", "phase"}),
		IngestBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinehub_ingest_bytes_total",
			Help: "Bytes streamed into the bulk-copy sink, by loader_type.",
		}, []string{"loader_type"}),
	}
}
