package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// DisplaysConnected tracks currently registered display sessions
	DisplaysConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablo_displays_connected",
			Help: "Number of display sessions currently registered for broadcast",
		},
	)

	// AdmissionFailures tracks connections that never entered the registry
	AdmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablo_admission_failures_total",
			Help: "Display connections rejected before registration by reason",
		},
		[]string{"reason"},
	)

	// EventsBroadcast tracks broadcast calls by event kind
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablo_events_broadcast_total",
			Help: "Events broadcast to displays by kind",
		},
		[]string{"kind"},
	)

	// SessionsEvicted tracks sessions removed because of a delivery failure
	SessionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablo_sessions_evicted_total",
			Help: "Display sessions evicted by reason (slow, write_error, closed)",
		},
		[]string{"reason"},
	)

	// SendDuration tracks per-frame websocket write latency
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablo_send_duration_seconds",
			Help:    "Time spent writing one frame to a display",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)

// Relay Metrics
var (
	// RelayPublished tracks events handed to the relay by outcome
	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablo_relay_published_total",
			Help: "Events published to the relay channel by status (ok, error, dropped)",
		},
		[]string{"status"},
	)

	// RelayReceived tracks events received from the relay channel
	RelayReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablo_relay_received_total",
			Help: "Events received from the relay channel",
		},
	)
)

// HTTP Metrics
var (
	// HTTPRequests tracks handled API requests by route and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablo_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
