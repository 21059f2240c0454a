package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdash_sync_runs_total",
			Help: "Sync runs by outcome",
		},
		[]string{"outcome"},
	)

	OrdersImportedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdash_orders_imported_total",
			Help: "Orders upserted by sync runs",
		},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdash_upstream_requests_total",
			Help: "Admin GraphQL requests by HTTP status (0 for transport errors)",
		},
		[]string{"status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderdash_upstream_request_duration_seconds",
			Help:    "Duration of Admin GraphQL requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdash_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderdash_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var once sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(SyncRunsTotal)
		prometheus.MustRegister(OrdersImportedTotal)
		prometheus.MustRegister(UpstreamRequestsTotal)
		prometheus.MustRegister(UpstreamRequestDuration)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
