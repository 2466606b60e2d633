// Package metrics exposes the server's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnections tracks the number of live WebSocket sessions.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pregunton_ws_connections",
		Help: "Number of open WebSocket connections.",
	})

	// ActionsTotal counts inbound client actions by action name.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pregunton_actions_total",
		Help: "Inbound WebSocket actions received.",
	}, []string{"action"})

	// EventsTotal counts outbound events by event type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pregunton_events_total",
		Help: "Outbound WebSocket events emitted.",
	}, []string{"type"})

	// FaultsTotal counts disciplinary faults by category.
	FaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pregunton_faults_total",
		Help: "Faults recorded against players.",
	}, []string{"category"})
)
