// Package metrics exposes the node's Prometheus instrumentation: chain
// manager and session counters/gauges registered against the default
// registry, following the teacher's use of prometheus/client_golang as an
// indirect dependency promoted here to a first-class observability
// surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BlocksApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oraclegridd_blocks_applied_total",
		Help: "Total number of blocks applied to the chain state.",
	})

	DataRequestsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oraclegridd_data_requests_resolved_total",
		Help: "Total number of data requests that reached a tally.",
	})

	SuperblocksFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oraclegridd_superblocks_finalized_total",
		Help: "Total number of superblocks that reached two-thirds quorum.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oraclegridd_active_sessions",
		Help: "Current number of active peer sessions.",
	})

	MempoolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oraclegridd_mempool_size",
		Help: "Current pending transaction count per mempool lane.",
	}, []string{"kind"})

	EpochDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclegridd_epoch_duration_seconds",
		Help:    "Observed wall-clock duration between epoch boundaries.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		BlocksApplied,
		DataRequestsResolved,
		SuperblocksFinalized,
		ActiveSessions,
		MempoolSize,
		EpochDuration,
	)
}
