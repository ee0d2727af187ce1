package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordConnect(ResultSuccess)
	m.RecordChannelClosed()
	m.RecordReconnectScheduled()
	m.RecordReconnectExhausted()
	m.RecordFrameReceived("cmd_result", true)
	m.RecordFrameSent("cmd")
	m.RecordInvalidFrame()
	m.RecordSendFailure()
	m.AddQueueDepth(3)
	m.RecordQueueDrop(DropRetries, 1)
	m.RecordFileOperation("list", "success")
	m.RecordListenerPanic()
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordConnect(ResultSuccess)
	m.RecordConnect(ResultSuccess)
	m.RecordConnect(ResultTimeout)
	m.RecordChannelClosed()

	if got := testutil.ToFloat64(m.connectsTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("success connects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connectionsActive); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}

	m.RecordFrameReceived("telemetry.v2", false)
	m.RecordFrameReceived("cmd_result", true)
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown frames = %v, want 1", got)
	}

	m.AddQueueDepth(3)
	m.AddQueueDepth(-2)
	if got := testutil.ToFloat64(m.queueDepth); got != 1 {
		t.Errorf("queue depth = %v, want 1", got)
	}

	m.RecordQueueDrop(DropCapacity, 0)
	m.RecordQueueDrop(DropCapacity, 2)
	if got := testutil.ToFloat64(m.queueDropped.WithLabelValues(DropCapacity)); got != 2 {
		t.Errorf("capacity drops = %v, want 2", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordReconnectScheduled()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "console_reconnects_scheduled_total 1") {
		t.Errorf("metrics output missing reconnect counter:\n%s", body)
	}
}
