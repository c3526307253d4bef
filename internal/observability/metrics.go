package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	messagesSentTotal            *prometheus.CounterVec
	conversationTransitionsTotal *prometheus.CounterVec
	notificationsPublishedTotal  *prometheus.CounterVec

	realtimeConnectionsActive prometheus.Gauge
	realtimeEventsTotal       *prometheus.CounterVec
	realtimeDroppedTotal      *prometheus.CounterVec
	realtimeReplayedTotal     prometheus.Counter

	pushDeliveriesTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medilink_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_messages_sent_total",
			Help: "Messages persisted, labelled by the path that created them.",
		}, []string{"kind"})

		conversationTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_conversation_transitions_total",
			Help: "Conversation status transitions applied.",
		}, []string{"to"})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_notifications_published_total",
			Help: "Notifications persisted, labelled by type.",
		}, []string{"type"})

		realtimeConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medilink_realtime_connections_active",
			Help: "Websocket connections currently attached to this node.",
		})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_realtime_events_total",
			Help: "Realtime events dispatched, labelled by event name and origin.",
		}, []string{"event", "origin"})

		realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_realtime_dropped_total",
			Help: "Realtime frames dropped, labelled by reason.",
		}, []string{"reason"})

		realtimeReplayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medilink_realtime_replayed_total",
			Help: "Outbox events replayed to reconnecting clients.",
		})

		pushDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medilink_push_deliveries_total",
			Help: "Push delivery attempts, labelled by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			messagesSentTotal,
			conversationTransitionsTotal,
			notificationsPublishedTotal,
			realtimeConnectionsActive,
			realtimeEventsTotal,
			realtimeDroppedTotal,
			realtimeReplayedTotal,
			pushDeliveriesTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// MessagesSent exposes the counter of persisted messages.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// ConversationTransitions exposes the counter of conversation status changes.
func ConversationTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return conversationTransitionsTotal
}

// NotificationsPublished exposes the counter of persisted notifications.
func NotificationsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// RealtimeConnections exposes the gauge of attached websocket clients.
func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnectionsActive
}

// RealtimeEvents exposes the counter of dispatched realtime events.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeDropped exposes the counter of dropped realtime frames.
func RealtimeDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// RealtimeReplayed exposes the counter of replayed outbox events.
func RealtimeReplayed() prometheus.Counter {
	RegisterMetrics()
	return realtimeReplayedTotal
}

// PushDeliveries exposes the counter of push delivery outcomes.
func PushDeliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return pushDeliveriesTotal
}
