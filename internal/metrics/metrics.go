// Package metrics provides Prometheus instrumentation for the realtime
// subsystem. It exposes gauges for connection and presence counts, counters
// for message and bridge throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsLive tracks the number of rooms with at least one live connection
	// on this process.
	RoomsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_rooms_live",
		Help: "Rooms with at least one live local connection",
	})

	// OnlineUsers tracks the number of users currently tracked as present.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_online_users",
		Help: "Users with a live presence record",
	})

	// MessagesTotal counts pipeline outcomes, labeled by type:
	// "persisted", "broadcast", "rejected", or "deduped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_messages_total",
		Help: "Total number of messages processed by the pipeline",
	}, []string{"type"})

	// SendLatency records end-to-end send handling latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rt_send_latency_seconds",
		Help:    "Message send handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BridgeEvents counts cross-instance bridge traffic, labeled by type:
	// "published", "delivered", "dropped_self", "dropped_dup", or "degraded".
	BridgeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_bridge_events_total",
		Help: "Cross-instance bridge events by outcome",
	}, []string{"type"})

	// PresenceSweeps counts users force-transitioned to offline by the
	// TTL sweeper.
	PresenceSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_presence_sweeps_total",
		Help: "Users swept to offline after missing the heartbeat TTL",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsLive,
		OnlineUsers,
		MessagesTotal,
		SendLatency,
		BridgeEvents,
		PresenceSweeps,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
