package lsm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors exposed by a tree/manager
// pair, mirroring lsmkv/metrics.go and bloom_filter_metrics.go: curried
// vectors created once at construction so the hot path only does a label
// lookup, never an allocation.
type Metrics struct {
	ChunksActive prometheus.Gauge
	ChunksOld    prometheus.Gauge

	QueueDepth   *prometheus.GaugeVec
	WorkerBusy   *prometheus.GaugeVec

	BloomOutcomes *prometheus.CounterVec

	FlushDuration prometheus.Histogram
	MergeDuration prometheus.Histogram
	BloomDuration prometheus.Histogram

	ThrottleMicros       prometheus.Gauge
	MergeAggressiveness  prometheus.Gauge
	MergeIdleWorkers     prometheus.Gauge

	WorkErrors *prometheus.CounterVec
}

// NewMetrics builds and registers a Metrics set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer, treeName string) *Metrics {
	labels := prometheus.Labels{"tree": treeName}

	m := &Metrics{
		ChunksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lsm_chunks_active",
			Help:        "Number of chunks in the active list.",
			ConstLabels: labels,
		}),
		ChunksOld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lsm_chunks_old",
			Help:        "Number of chunks pending drop.",
			ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "lsm_queue_depth",
			Help:        "Pending work units per queue.",
			ConstLabels: labels,
		}, []string{"queue"}),
		WorkerBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "lsm_workers_busy",
			Help:        "Workers currently executing a unit, per kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		BloomOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lsm_bloom_outcomes_total",
			Help:        "Bloom filter check outcomes on point lookups.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lsm_flush_duration_seconds",
			Help:        "Time to flush a chunk to disk.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lsm_merge_duration_seconds",
			Help:        "Time to merge a run of chunks.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		BloomDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lsm_bloom_build_duration_seconds",
			Help:        "Time to build a bloom filter for a chunk.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ThrottleMicros: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lsm_throttle_micros",
			Help:        "Combined ckpt_throttle+merge_throttle currently applied to writers.",
			ConstLabels: labels,
		}),
		MergeAggressiveness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lsm_merge_aggressiveness",
			Help:        "Current merge_aggressiveness value.",
			ConstLabels: labels,
		}),
		MergeIdleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lsm_merge_idle_workers",
			Help:        "Workers with MERGE enabled currently blocked on work_cond.",
			ConstLabels: labels,
		}),
		WorkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lsm_work_errors_total",
			Help:        "Work unit failures, per kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.ChunksActive, m.ChunksOld, m.QueueDepth, m.WorkerBusy,
			m.BloomOutcomes, m.FlushDuration, m.MergeDuration, m.BloomDuration,
			m.ThrottleMicros, m.MergeAggressiveness, m.MergeIdleWorkers, m.WorkErrors)
	}

	return m
}

// noopMetrics services trees opened without an explicit registry so
// metrics calls never need a nil check on the hot path.
func noopMetrics() *Metrics {
	return NewMetrics(nil, "unregistered")
}
