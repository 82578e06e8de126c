package metrics

import "github.com/prometheus/client_golang/prometheus"

// AssistantMetrics exposes counters/histograms for the conversational flows.
type AssistantMetrics struct {
	inboundTotal   *prometheus.CounterVec
	bufferFlushes  *prometheus.CounterVec
	turnsTotal     *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	handoffTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhooks",
		}, []string{"message_type", "status"}),
		bufferFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "buffer_flush_total",
			Help:      "Total debounce buffer flushes",
		}, []string{"trigger"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total conversation turns processed",
		}, []string{"step", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"kind", "status"}),
		handoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "handoff_total",
			Help:      "Total escalations to a human attendant",
		}, []string{"reason"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.bufferFlushes,
		m.turnsTotal,
		m.outboundTotal,
		m.handoffTotal,
		m.webhookLatency,
	)
	return m
}

func (m *AssistantMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *AssistantMetrics) ObserveBufferFlush(trigger string) {
	if m == nil {
		return
	}
	m.bufferFlushes.WithLabelValues(trigger).Inc()
}

func (m *AssistantMetrics) ObserveTurn(step, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(step, outcome).Inc()
}

func (m *AssistantMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *AssistantMetrics) ObserveHandoff(reason string) {
	if m == nil {
		return
	}
	m.handoffTotal.WithLabelValues(reason).Inc()
}

func (m *AssistantMetrics) ObserveWebhookLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(messageType).Observe(seconds)
}
