package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the live monitor
type Metrics struct {
	// CommittedHeight is shared with catch-up
	CommittedHeight prometheus.Gauge

	MempoolSize   prometheus.Gauge
	BlocksApplied prometheus.Counter
	MempoolTxs    prometheus.Counter
	Restarts      *prometheus.CounterVec
}

// NewMetrics creates the live monitor metrics and registers them with reg.
// A nil reg leaves them unregistered. committed is the committed height gauge
// owned by catch-up; when nil an unregistered gauge is used.
func NewMetrics(reg prometheus.Registerer, committed prometheus.Gauge) *Metrics {
	factory := promauto.With(reg)
	if committed == nil {
		committed = prometheus.NewGauge(prometheus.GaugeOpts{Name: "committed_height"})
	}

	return &Metrics{
		CommittedHeight: committed,
		MempoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "live",
			Name:      "mempool_size",
			Help:      "Number of transactions in the last full mempool refresh",
		}),
		BlocksApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "live",
			Name:      "blocks_applied_total",
			Help:      "Total number of blocks applied from the live stream, including backfill",
		}),
		MempoolTxs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "live",
			Name:      "mempool_txs_total",
			Help:      "Total number of streamed mempool transactions applied",
		}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "live",
			Name:      "restarts_total",
			Help:      "Total number of subscription restarts by loop",
		}, []string{"loop"}),
	}
}
