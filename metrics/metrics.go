package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion gateway
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_events_received_total",
			Help: "Tracking events received by the ingestion gateway",
		},
		[]string{"kind", "outcome"}, // kind: user, session; outcome: accepted, rejected, failed
	)

	// Topic publisher
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_pubsub_publish_total",
			Help: "Publish attempts per topic and result",
		},
		[]string{"topic", "result"},
	)

	// Chat relay
	ChatRelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_chat_relay_requests_total",
			Help: "Chat relay requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	ChatRelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_chat_relay_duration_seconds",
			Help:    "Latency of calls relayed to the RAG service",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"endpoint"},
	)
)

func RecordEventReceived(kind, outcome string) {
	EventsReceived.WithLabelValues(kind, outcome).Inc()
}

func RecordPublish(topic string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(topic, result).Inc()
}

func RecordChatRelay(endpoint, outcome string, started time.Time) {
	ChatRelayRequests.WithLabelValues(endpoint, outcome).Inc()
	ChatRelayDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}
