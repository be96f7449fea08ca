package orchestrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus instrumentation. Created
// against an injected registerer so tests and embedders control exposure;
// there is no package-level registry.
type Metrics struct {
	MissionsProcessed *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	AwardsFetched     prometheus.Counter
	RecordsNormalized prometheus.Counter
	RecordsSkipped    prometheus.Counter
	BatchDuration     prometheus.Histogram
}

// NewMetrics registers the orchestrator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MissionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "missionspend_missions_processed_total",
			Help: "Mission-computation pairs reaching a terminal state.",
		}, []string{"state"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "missionspend_cache_hits_total",
			Help: "Cache hits by computation kind.",
		}, []string{"kind"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "missionspend_cache_misses_total",
			Help: "Cache misses by computation kind.",
		}, []string{"kind"}),
		AwardsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "missionspend_awards_fetched_total",
			Help: "Awards fetched from the spending API.",
		}),
		RecordsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "missionspend_records_normalized_total",
			Help: "Raw records normalized into the transaction stream.",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "missionspend_records_skipped_total",
			Help: "Malformed records dropped during normalization.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "missionspend_batch_duration_seconds",
			Help:    "Wall-clock duration of aggregation batches.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
