package conn

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeCommit     = "commit"
	outcomeRollback   = "rollback"
	outcomeExpired    = "expired"
	outcomeFailed     = "failed"
	outcomeQueryError = "query_error"
)

var (
	txOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remotetx",
			Subsystem: "conn",
			Name:      "transactions_total",
			Help:      "Counter of transaction outcomes.",
		}, []string{"outcome"})

	keepAliveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remotetx",
			Subsystem: "conn",
			Name:      "keep_alive_total",
			Help:      "Counter of keep-alive calls by result.",
		}, []string{"result"})

	activeTxGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remotetx",
			Subsystem: "conn",
			Name:      "active_transactions",
			Help:      "Number of connections holding an open transaction.",
		})
)

func init() {
	prometheus.MustRegister(txOutcomeCounter)
	prometheus.MustRegister(keepAliveCounter)
	prometheus.MustRegister(activeTxGauge)
}
