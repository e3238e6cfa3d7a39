package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheErrorsTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Socket metrics
	SocketConnectionsActive prometheus.Gauge
	SocketConnectionsTotal  prometheus.Counter
	SocketEventsEmitted     *prometheus.CounterVec
	SocketEventsDropped     *prometheus.CounterVec
	SocketInboundRejected   *prometheus.CounterVec
	PresenceOnlineUsers     prometheus.Gauge

	// Spam guard
	SpamRejectedTotal *prometheus.CounterVec

	// Purge scheduler
	PurgeDeletedTotal  *prometheus.CounterVec
	PurgeFailuresTotal *prometheus.CounterVec
	PurgeRunDuration   *prometheus.HistogramVec

	// Notifications
	NotificationsCreated *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),

			CacheHitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"cache_name"},
			),
			CacheMissesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Total number of cache misses",
				},
				[]string{"cache_name"},
			),
			CacheErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_errors_total",
					Help: "Cache operations that failed and were treated as misses",
				},
				[]string{"cache_name", "operation"},
			),
			CacheInvalidationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_invalidations_total",
					Help: "Keys removed by explicit invalidation",
				},
				[]string{"cache_name"},
			),

			SocketConnectionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "socket_connections_active",
					Help: "Currently open socket connections",
				},
			),
			SocketConnectionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "socket_connections_total",
					Help: "Socket connections accepted since start",
				},
			),
			SocketEventsEmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "socket_events_emitted_total",
					Help: "Frames delivered to client send buffers",
				},
				[]string{"event"},
			),
			SocketEventsDropped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "socket_events_dropped_total",
					Help: "Frames dropped before reaching a client",
				},
				[]string{"reason"},
			),
			SocketInboundRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "socket_inbound_rejected_total",
					Help: "Inbound client frames rejected",
				},
				[]string{"reason"},
			),
			PresenceOnlineUsers: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "presence_online_users",
					Help: "Users with at least one open connection",
				},
			),

			SpamRejectedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spam_rejected_total",
					Help: "Live chat messages rejected by the spam guard",
				},
				[]string{"reason"},
			),

			PurgeDeletedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "purge_deleted_total",
					Help: "Rows permanently deleted by the purge scheduler",
				},
				[]string{"task"},
			),
			PurgeFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "purge_failures_total",
					Help: "Rows the purge scheduler failed to delete",
				},
				[]string{"task"},
			),
			PurgeRunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "purge_run_duration_seconds",
					Help:    "Duration of one purge pass",
					Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
				},
				[]string{"task"},
			),

			NotificationsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notifications_created_total",
					Help: "Notifications persisted, by type",
				},
				[]string{"type"},
			),
		}
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Initialize()
}
