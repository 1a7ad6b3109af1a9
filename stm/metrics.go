package stm

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinystm",
			Subsystem: "txn",
			Name:      "txns_count",
			Help:      "Counter of finished atomic blocks.",
		}, []string{"result"})

	abortCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinystm",
			Subsystem: "txn",
			Name:      "aborts_total",
			Help:      "Counter of rolled back attempts.",
		}, []string{"reason"})

	attemptHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinystm",
			Subsystem: "txn",
			Name:      "attempts",
			Help:      "Bucketed histogram of attempts needed by committed txns.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})

	commitHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinystm",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of time (s) spent locking and applying a commit.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		})

	backoffHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinystm",
			Subsystem: "txn",
			Name:      "backoff_seconds",
			Help:      "Bucketed histogram of time (s) waited between attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		})

	idGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinystm",
			Subsystem: "id",
			Name:      "last",
			Help:      "Record of id allocator.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(abortCounter)
	prometheus.MustRegister(attemptHistogram)
	prometheus.MustRegister(commitHistogram)
	prometheus.MustRegister(backoffHistogram)
	prometheus.MustRegister(idGauge)
}
