package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Chat-API metrics - using explicit registration
var (
	// Connection lifecycle
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Frame counters
	FramesTotal *prometheus.CounterVec

	// Turn counters and latency
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Model call latency
	ModelLatency *prometheus.HistogramVec

	// Tool invocation counters
	ToolCallsTotal *prometheus.CounterVec
)

// init creates and registers all metrics with the default registry
func init() {
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "connections_active",
			Help:      "Currently open websocket connections",
		},
	)

	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "connections_total",
			Help:      "Total accepted websocket connections",
		},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "frames_total",
			Help:      "Total inbound frames by action and outcome",
		},
		[]string{"action", "status"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "turns_total",
			Help:      "Total conversation turns by outcome",
		},
		[]string{"status"},
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "model_latency_seconds",
			Help:      "Model completion latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "api",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations by tool and outcome",
		},
		[]string{"tool_name", "status"},
	)

	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(ModelLatency)
	prometheus.MustRegister(ToolCallsTotal)
}

// RecordConnectionOpened tracks an accepted websocket connection
func RecordConnectionOpened() {
	ConnectionsTotal.Inc()
	ConnectionsActive.Inc()
}

// RecordConnectionClosed tracks a closed websocket connection
func RecordConnectionClosed() {
	ConnectionsActive.Dec()
}

// RecordFrame records one inbound frame
func RecordFrame(action, status string) {
	FramesTotal.WithLabelValues(action, status).Inc()
}

// RecordTurn records one completed turn
func RecordTurn(status string, durationSec float64) {
	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.Observe(durationSec)
}

// RecordModelLatency records one model completion call
func RecordModelLatency(model string, durationSec float64) {
	if model == "" {
		model = "unknown"
	}
	ModelLatency.WithLabelValues(model).Observe(durationSec)
}

// RecordToolCall records one tool invocation
func RecordToolCall(toolName, status string) {
	if toolName == "" {
		toolName = "unknown"
	}
	ToolCallsTotal.WithLabelValues(toolName, status).Inc()
}
