// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks open peer connections by endpoint role.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "gateway",
		Name:      "connections_active",
		Help:      "Number of open peer connections by role.",
	}, []string{"role"})

	// FramesReceived counts inbound frames by role and envelope type.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "gateway",
		Name:      "frames_received_total",
		Help:      "Number of frames received from peers.",
	}, []string{"role", "type"})

	// FramesSent counts outbound frames by role and envelope type.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "gateway",
		Name:      "frames_sent_total",
		Help:      "Number of frames sent to peers.",
	}, []string{"role", "type"})

	// TasksCreated counts tasks by store kind (task, servicetask).
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "router",
		Name:      "tasks_created_total",
		Help:      "Number of tasks created.",
	}, []string{"kind"})

	// TaskTransitions counts task status transitions by resulting status.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "router",
		Name:      "task_transitions_total",
		Help:      "Number of task status transitions.",
	}, []string{"kind", "status"})

	// RouterErrors counts error frames sent to peers by error code.
	RouterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "router",
		Name:      "errors_total",
		Help:      "Number of error frames emitted by the router.",
	}, []string{"code"})

	// MCPToolCalls counts MCP tool executions by server and outcome.
	MCPToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "mcp",
		Name:      "tool_calls_total",
		Help:      "Number of MCP tool calls by server and outcome.",
	}, []string{"server", "status"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
