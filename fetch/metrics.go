package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of catch-up
type Metrics struct {
	// Gauges (current values)
	CommittedHeight prometheus.Gauge
	ShelfSize       prometheus.Gauge

	// Counters (cumulative values)
	BlocksCommitted prometheus.Counter
	BatchesDropped  prometheus.Counter

	// Histograms (distributions)
	FlushDuration prometheus.Histogram
}

// NewMetrics creates the catch-up metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommittedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Name:      "committed_height",
			Help:      "Highest block height committed to the index",
		}),
		ShelfSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "fetch",
			Name:      "shelf_size",
			Help:      "Fetched batches waiting for a lower height to commit",
		}),
		BlocksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "fetch",
			Name:      "blocks_committed_total",
			Help:      "Total number of blocks committed during catch-up",
		}),
		BatchesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "fetch",
			Name:      "batches_dropped_total",
			Help:      "Total number of fetched batches dropped because the sequencer had exited",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexer",
			Subsystem: "fetch",
			Name:      "flush_duration_seconds",
			Help:      "Time taken to flush the store",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
