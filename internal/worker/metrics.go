package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	outcomeSucceeded = "succeeded"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
)

// poolMetrics holds the Prometheus metrics owned by a worker pool.
type poolMetrics struct {
	// jobsTotal counts finished job attempts by outcome: "succeeded",
	// "retried", "failed" or "abandoned" (shutdown mid-job).
	jobsTotal *prometheus.CounterVec

	// failuresTotal counts failed attempts by failure kind.
	failuresTotal *prometheus.CounterVec

	// jobDurationSeconds records the wall-clock time of each attempt.
	jobDurationSeconds *prometheus.HistogramVec

	// chunksIndexedTotal counts vectors written by successful jobs.
	chunksIndexedTotal prometheus.Counter

	// emptyDocumentsTotal counts documents that produced no chunks.
	emptyDocumentsTotal prometheus.Counter

	// jobsReapedTotal counts jobs failed because their final lease expired.
	jobsReapedTotal prometheus.Counter

	// busyWorkers is the number of workers currently running a job.
	busyWorkers prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	factory := promauto.With(reg)

	return &poolMetrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total number of ingestion job attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "job_failures_total",
			Help:      "Total number of failed ingestion attempts, partitioned by failure kind.",
		}, []string{"kind"}),

		jobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of ingestion job attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"outcome"}),

		chunksIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunk vectors upserted by successful jobs.",
		}),

		emptyDocumentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "ingest",
			Name:      "empty_documents_total",
			Help:      "Documents processed with zero chunks, usually scanned or image-only sources.",
		}),

		jobsReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "jobs_reaped_total",
			Help:      "Jobs failed because their lease expired on the final attempt.",
		}),

		busyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbase",
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Number of workers currently running a job.",
		}),
	}
}
