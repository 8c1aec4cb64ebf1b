package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts API calls by method, route template and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "drivepower_client", Name: "api_requests_total", Help: "API requests issued by the client"},
		[]string{"method", "route", "status"},
	)
	// APIRequestDuration observes API call latency by method and route template.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drivepower_client",
			Name:      "api_request_duration_seconds",
			Help:      "API request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// HubConnectsTotal counts chat hub dial attempts by outcome.
	HubConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "drivepower_client", Name: "hub_connects_total", Help: "Chat hub connection attempts by outcome"},
		[]string{"outcome"},
	)
	// HubEventsTotal counts pushed hub events by target.
	HubEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "drivepower_client", Name: "hub_events_total", Help: "Inbound chat hub events by target"},
		[]string{"target"},
	)
	// HubConnected is 1 while the chat hub connection is up.
	HubConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "drivepower_client", Name: "hub_connected", Help: "1 while the chat hub connection is up"})
	// StaleResponsesTotal counts fetch responses dropped because a newer request superseded them.
	StaleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "drivepower_client", Name: "stale_responses_total", Help: "Fetch responses discarded because a newer request superseded them"},
		[]string{"store"},
	)
)
