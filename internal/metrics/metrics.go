package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventSub client metrics
var (
	// EventSubMessagesReceived tracks inbound messages by classified kind
	EventSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_messages_received_total",
			Help: "Total EventSub messages received by message kind",
		},
		[]string{"kind"},
	)

	// EventSubDecodeErrors tracks field-level decode errors by message kind
	EventSubDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_decode_errors_total",
			Help: "Total EventSub field-level decode errors by message kind",
		},
		[]string{"kind"},
	)

	// EventSubConnected is 1 while the websocket connection is open
	EventSubConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsub_connected",
			Help: "1 if the EventSub websocket connection is open, 0 otherwise",
		},
	)

	// EventSubSessionsEstablished counts welcome messages that latched a session id
	EventSubSessionsEstablished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_sessions_established_total",
			Help: "Total EventSub sessions established (welcome messages with a session id)",
		},
	)

	// EventSubKeepalives counts keepalive liveness signals
	EventSubKeepalives = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_keepalives_total",
			Help: "Total EventSub keepalive messages received",
		},
	)

	// EventSubDisconnects tracks receive loop terminations by reason
	EventSubDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_disconnects_total",
			Help: "Total EventSub disconnects by reason (close_frame/transport_error/client)",
		},
		[]string{"reason"},
	)

	// EventSubEventsDropped counts events dropped because the host queue was full
	EventSubEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_events_dropped_total",
			Help: "Total events dropped because the host event queue was full",
		},
	)
)

// Helix subscription metrics
var (
	// HelixSubscribeAttempts tracks subscription creation attempts by result
	HelixSubscribeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helix_subscribe_attempts_total",
			Help: "Total Helix EventSub subscribe attempts by result (success/conflict/exhausted/permanent_error)",
		},
		[]string{"result"},
	)

	// HelixTokenRefreshes tracks app access token requests by result
	HelixTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helix_token_refreshes_total",
			Help: "Total Helix app access token requests by result",
		},
		[]string{"result"},
	)
)

// Relay sink metrics
var (
	// RelayPublishes tracks notification publishes to Redis by status
	RelayPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publishes_total",
			Help: "Total notification publishes to Redis by status (ok/error/breaker_open)",
		},
		[]string{"status"},
	)

	// RelayBreakerState tracks the relay circuit breaker state (0=closed, 1=half-open, 2=open)
	RelayBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_breaker_state",
			Help: "Relay circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
