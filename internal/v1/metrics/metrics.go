package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the multiplayer server.
//
// Naming convention: namespace_subsystem_name
// - namespace: rhyline (application-level grouping)
// - subsystem: tcp, room, replay, push (feature-level grouping)
// - name: specific metric (sessions_active, frames_total, etc.)

var (
	// ActiveSessions tracks the current number of live game TCP sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rhyline",
		Subsystem: "tcp",
		Name:      "sessions_active",
		Help:      "Current number of active game sessions",
	})

	// FramesReceived counts inbound protocol frames by command.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rhyline",
		Subsystem: "tcp",
		Name:      "frames_received_total",
		Help:      "Total inbound protocol frames",
	}, []string{"command"})

	// FramesSent counts outbound protocol frames.
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rhyline",
		Subsystem: "tcp",
		Name:      "frames_sent_total",
		Help:      "Total outbound protocol frames",
	})

	// CommandDuration tracks the time spent dispatching client commands.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rhyline",
		Subsystem: "tcp",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing client commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// ActiveRooms tracks the current number of rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rhyline",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the player count per room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rhyline",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_id"})

	// ReplayBytesWritten counts bytes appended to replay files.
	ReplayBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rhyline",
		Subsystem: "replay",
		Name:      "bytes_written_total",
		Help:      "Total bytes appended to replay files",
	})

	// PushSubscribers tracks connected telemetry WebSocket clients.
	PushSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rhyline",
		Subsystem: "push",
		Name:      "subscribers_active",
		Help:      "Current number of telemetry WebSocket subscribers",
	}, []string{"kind"})

	// HTTPRequests counts HTTP API requests by route group.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rhyline",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP API requests",
	}, []string{"group"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rhyline",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"group"})

	// CircuitBreakerState reports the identity client breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rhyline",
		Subsystem: "external",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)
