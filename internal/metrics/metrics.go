// Package metrics provides Prometheus metrics for the console session layer.
//
// Collectors are owned by a Metrics value registered against a caller
// supplied registry, so several managers (and tests) never share counters.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session layer collectors.
type Metrics struct {
	connectsTotal      *prometheus.CounterVec
	reconnectsTotal    prometheus.Counter
	reconnectExhausted prometheus.Counter
	connectionsActive  prometheus.Gauge

	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	framesInvalid  prometheus.Counter

	sendFailures  prometheus.Counter
	queueDepth    prometheus.Gauge
	queueDropped  *prometheus.CounterVec
	fileOpsTotal  *prometheus.CounterVec
	listenerPanic prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_connects_total",
				Help: "Connection attempts by result",
			},
			[]string{"result"},
		),
		reconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_reconnects_scheduled_total",
				Help: "Automatic reconnection attempts scheduled",
			},
		),
		reconnectExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_reconnects_exhausted_total",
				Help: "Connections that gave up reconnecting",
			},
		),
		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_connections_active",
				Help: "Channels currently open",
			},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_frames_received_total",
				Help: "Frames received by kind",
			},
			[]string{"kind"},
		),
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_frames_sent_total",
				Help: "Frames written to the channel by kind",
			},
			[]string{"kind"},
		),
		framesInvalid: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_frames_invalid_total",
				Help: "Malformed frames discarded",
			},
		),
		sendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_send_failures_total",
				Help: "Writes that failed and were queued",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_queue_depth",
				Help: "Messages waiting in outbound queues",
			},
		),
		queueDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_queue_dropped_total",
				Help: "Queued messages dropped by reason",
			},
			[]string{"reason"},
		),
		fileOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_file_operations_total",
				Help: "Completed file operations by type and status",
			},
			[]string{"type", "status"},
		),
		listenerPanic: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_listener_panics_total",
				Help: "Listener callbacks that panicked",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectsTotal,
			m.reconnectsTotal,
			m.reconnectExhausted,
			m.connectionsActive,
			m.framesReceived,
			m.framesSent,
			m.framesInvalid,
			m.sendFailures,
			m.queueDepth,
			m.queueDropped,
			m.fileOpsTotal,
			m.listenerPanic,
		)
	}
	return m
}

// Handler returns the HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Connect results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// Queue drop reasons.
const (
	DropCapacity = "capacity"
	DropRetries  = "retries"
	DropDiscard  = "disconnect"
)

// RecordConnect records the outcome of a dial.
func (m *Metrics) RecordConnect(result string) {
	if m == nil {
		return
	}
	m.connectsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.connectionsActive.Inc()
	}
}

// RecordChannelClosed records that an open channel went away.
func (m *Metrics) RecordChannelClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// RecordReconnectScheduled records one scheduled retry.
func (m *Metrics) RecordReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// RecordReconnectExhausted records a connection giving up.
func (m *Metrics) RecordReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhausted.Inc()
}

// RecordFrameReceived records an inbound frame. Kinds the console does not
// know are folded into "unknown" to bound label cardinality.
func (m *Metrics) RecordFrameReceived(kind string, known bool) {
	if m == nil {
		return
	}
	if !known {
		kind = "unknown"
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// RecordFrameSent records an outbound frame.
func (m *Metrics) RecordFrameSent(kind string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(kind).Inc()
}

// RecordInvalidFrame records a discarded malformed frame.
func (m *Metrics) RecordInvalidFrame() {
	if m == nil {
		return
	}
	m.framesInvalid.Inc()
}

// RecordSendFailure records a failed write.
func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// AddQueueDepth adjusts the queued message gauge by delta.
func (m *Metrics) AddQueueDepth(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.queueDepth.Add(float64(delta))
}

// RecordQueueDrop records n messages dropped for reason.
func (m *Metrics) RecordQueueDrop(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordFileOperation records a file operation reaching a terminal status.
func (m *Metrics) RecordFileOperation(opType, status string) {
	if m == nil {
		return
	}
	m.fileOpsTotal.WithLabelValues(opType, status).Inc()
}

// RecordListenerPanic records a recovered listener panic.
func (m *Metrics) RecordListenerPanic() {
	if m == nil {
		return
	}
	m.listenerPanic.Inc()
}
