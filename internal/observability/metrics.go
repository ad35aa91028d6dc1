// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	EventsIngested *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	FeedReconnects *prometheus.CounterVec

	// Hub metrics
	HubSubscriptions prometheus.Gauge
	HubAdapters      prometheus.Gauge
	SubscriberDrops  prometheus.Counter

	// Session metrics
	SessionsByStatus       *prometheus.GaugeVec
	TradesClosed           *prometheus.CounterVec
	PositionsOpened        prometheus.Counter
	SessionStaleness       *prometheus.GaugeVec
	InvariantViolations    prometheus.Counter
	EventProcessingLatency prometheus.Histogram

	// Gateway metrics
	OrdersPlaced  *prometheus.CounterVec
	GatewayErrors *prometheus.CounterVec
	OrderLatency  prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastEventTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trading_lab"
	}

	return &Metrics{
		// Feed metrics
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_ingested_total",
			Help:      "Total number of market events emitted by feed adapters",
		}, []string{"symbol", "kind"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by reason",
		}, []string{"reason"}),
		FeedReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed adapter reconnects",
		}, []string{"adapter"}),

		// Hub metrics
		HubSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscriptions",
			Help:      "Current number of live hub subscriptions",
		}),
		HubAdapters: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "adapters",
			Help:      "Current number of live feed adapters",
		}),
		SubscriberDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscriber_drops_total",
			Help:      "Total events evicted from slow subscriber buffers",
		}),

		// Session metrics
		SessionsByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sessions",
			Help:      "Current number of sessions by status",
		}, []string{"status"}),
		TradesClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "trades_closed_total",
			Help:      "Total number of closed trades by exit reason",
		}, []string{"exit_reason"}),
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "positions_opened_total",
			Help:      "Total number of opened positions",
		}),
		SessionStaleness: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "staleness_seconds",
			Help:      "Seconds since a session last processed an event",
		}, []string{"session_id"}),
		InvariantViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "invariant_violations_total",
			Help:      "Total capital-conservation violations detected",
		}),
		EventProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "event_processing_seconds",
			Help:      "Per-event session processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Gateway metrics
		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "orders_placed_total",
			Help:      "Total orders placed by venue and side",
		}, []string{"venue", "side"}),
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Total execution errors by kind",
		}, []string{"kind"}),
		OrderLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "order_latency_seconds",
			Help:      "Order placement latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastEventTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the last ingested market event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventIngested increments the ingested counter for one event.
func RecordEventIngested(symbol, kind string) {
	DefaultMetrics.EventsIngested.WithLabelValues(symbol, kind).Inc()
}

// RecordEventDropped increments the dropped counter for a reason
// (slow_subscriber, malformed, out_of_order).
func RecordEventDropped(reason string) {
	DefaultMetrics.EventsDropped.WithLabelValues(reason).Inc()
	if reason == "slow_subscriber" {
		DefaultMetrics.SubscriberDrops.Inc()
	}
}

// RecordFeedReconnect increments the reconnect counter for an adapter.
func RecordFeedReconnect(adapter string) {
	DefaultMetrics.FeedReconnects.WithLabelValues(adapter).Inc()
}

// UpdateHubSizes updates the hub gauges.
func UpdateHubSizes(subscriptions, adapters int) {
	DefaultMetrics.HubSubscriptions.Set(float64(subscriptions))
	DefaultMetrics.HubAdapters.Set(float64(adapters))
}

// RecordTradeClosed increments the closed-trade counter for an exit reason.
func RecordTradeClosed(exitReason string) {
	DefaultMetrics.TradesClosed.WithLabelValues(exitReason).Inc()
}

// RecordPositionOpened increments the opened-position counter.
func RecordPositionOpened() {
	DefaultMetrics.PositionsOpened.Inc()
}

// UpdateSessionStaleness sets the staleness gauge for one session.
func UpdateSessionStaleness(sessionID string, seconds float64) {
	DefaultMetrics.SessionStaleness.WithLabelValues(sessionID).Set(seconds)
}

// UpdateSessionCounts sets the per-status session gauges.
func UpdateSessionCounts(counts map[string]int) {
	for _, status := range []string{"created", "active", "paused", "stopped"} {
		DefaultMetrics.SessionsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// DropSessionStaleness removes the staleness series for a deleted session.
func DropSessionStaleness(sessionID string) {
	DefaultMetrics.SessionStaleness.DeleteLabelValues(sessionID)
}

// RecordInvariantViolation increments the invariant violation counter.
func RecordInvariantViolation() {
	DefaultMetrics.InvariantViolations.Inc()
}

// RecordGatewayError increments the gateway error counter for a kind.
func RecordGatewayError(kind string) {
	DefaultMetrics.GatewayErrors.WithLabelValues(kind).Inc()
}

// RecordOrderPlaced increments the order counter for a venue and side.
func RecordOrderPlaced(venue, side string) {
	DefaultMetrics.OrdersPlaced.WithLabelValues(venue, side).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
