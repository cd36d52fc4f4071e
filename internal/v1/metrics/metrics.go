package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the quiz relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: quiz_relay (application-level grouping)
// - subsystem: websocket, room (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, players)
// - Counter: cumulative events (frames processed, rooms terminated)

var (
	// ActiveConnections tracks the current number of open WebSocket channels
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiz_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms in the registry
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiz_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomPlayers tracks the number of players in each room
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quiz_relay",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players registered in each room",
	}, []string{"room_id"})

	// Frames tracks every inbound frame by protocol verb and outcome
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_relay",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total inbound frames processed",
	}, []string{"verb", "status"})

	// RateLimited counts rate-limit hits by enforcement action
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_relay",
		Subsystem: "websocket",
		Name:      "rate_limited_total",
		Help:      "Total rate limit hits",
	}, []string{"action"})

	// RoomsCreated counts rooms created, including restores
	RoomsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_relay",
		Subsystem: "room",
		Name:      "rooms_created_total",
		Help:      "Total rooms created",
	}, []string{"origin"})

	// RoomsTerminated counts rooms removed from the registry by reason
	RoomsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_relay",
		Subsystem: "room",
		Name:      "rooms_terminated_total",
		Help:      "Total rooms terminated",
	}, []string{"reason"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
