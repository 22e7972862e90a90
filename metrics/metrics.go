package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure stages for ConnectionFailures.
const (
	StageReceive  = "receive"
	StageDispatch = "dispatch"
	StageSend     = "send"
	StagePanic    = "panic"
)

var (
	// Connections counts accepted monitoring-server connections.
	Connections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapcat_connections_total",
			Help: "Total number of accepted connections",
		},
	)
	// ConnectionFailures counts connections aborted by an error, by the
	// stage that failed.
	ConnectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcat_connection_failures_total",
			Help: "Total number of connections closed because of an error",
		},
		[]string{"stage"},
	)
	// Queries counts answered queries by item kind and outcome.
	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcat_queries_total",
			Help: "Total number of queries",
		},
		[]string{"kind", "status"},
	)
	// QueryDuration is the time spent resolving a query.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zapcat_query_duration_seconds",
			Help:    "Query resolution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	// TrapperItems counts items pushed by the trapper.
	TrapperItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcat_trapper_items_total",
			Help: "Total number of items sent by the trapper",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveQuery(kind string, d time.Duration, err error) {
	Queries.WithLabelValues(kind, status(err)).Inc()
	QueryDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func ObserveTrap(err error) {
	TrapperItems.WithLabelValues(status(err)).Inc()
}
