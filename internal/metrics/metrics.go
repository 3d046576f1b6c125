// Package metrics holds the Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every Prometheus collector the gateway registers.
type Metrics struct {
	MappingQueriesTotal  prometheus.Counter
	MappingCacheHits     prometheus.Counter
	MappingCacheMisses   prometheus.Counter
	ActiveConnections    prometheus.Gauge
	HandshakesTotal      *prometheus.CounterVec
	EventsDispatched     *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec
	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter
}

// New registers and returns the gateway's metric collectors against the
// default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		MappingQueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifypush_mapping_query_total",
			Help: "Number of storage-mapping database queries executed.",
		}),
		MappingCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifypush_mapping_cache_hits_total",
			Help: "Number of storage-mapping lookups served from cache.",
		}),
		MappingCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifypush_mapping_cache_misses_total",
			Help: "Number of storage-mapping lookups that required a database load.",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "notifypush_active_connections",
			Help: "Number of currently registered client connections.",
		}),
		HandshakesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notifypush_handshakes_total",
			Help: "Client handshake attempts by outcome.",
		}, []string{"outcome"}),
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notifypush_events_dispatched_total",
			Help: "Bus events successfully decoded and processed, by event kind.",
		}, []string{"kind"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notifypush_events_dropped_total",
			Help: "Bus events dropped, by reason.",
		}, []string{"reason"}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifypush_notifications_sent_total",
			Help: "Notification tokens enqueued onto a client sink.",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifypush_notifications_dropped_total",
			Help: "Notification tokens dropped because their sink was closed or full.",
		}),
	}
}
