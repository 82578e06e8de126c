package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAssistantMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAssistantMetrics(reg)

	m.ObserveInbound("text", "accepted")
	m.ObserveInbound("text", "accepted")
	m.ObserveBufferFlush("keyword")
	m.ObserveTurn("select_date", "advanced")
	m.ObserveOutbound("audio", "sent")
	m.ObserveHandoff("attempts_exhausted")
	m.ObserveWebhookLatency("text", 0.042)

	if got := testutil.ToFloat64(m.inboundTotal.WithLabelValues("text", "accepted")); got != 2 {
		t.Errorf("inbound count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.bufferFlushes.WithLabelValues("keyword")); got != 1 {
		t.Errorf("flush count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.handoffTotal.WithLabelValues("attempts_exhausted")); got != 1 {
		t.Errorf("handoff count = %v, want 1", got)
	}
}

func TestAssistantMetricsNilSafe(t *testing.T) {
	var m *AssistantMetrics
	m.ObserveInbound("text", "accepted")
	m.ObserveBufferFlush("timeout")
	m.ObserveTurn("select_time", "retry")
	m.ObserveOutbound("text", "failed")
	m.ObserveHandoff("user_request")
	m.ObserveWebhookLatency("audio", 1.0)
}
