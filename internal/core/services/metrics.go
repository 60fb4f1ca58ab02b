package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// PromMetrics implements ports.Metrics over prometheus client_golang
// instruments, registered against a caller-supplied registry so tests
// and multiple connector instances never collide on the default
// registry.
type PromMetrics struct {
	webhookReceived *prometheus.CounterVec
	eventDeduped    *prometheus.CounterVec
	eventProcessed  *prometheus.CounterVec
	eventFailed     *prometheus.CounterVec
	handlerLatency  *prometheus.HistogramVec
	batchTotal      prometheus.Counter
	batchProcessed  prometheus.Counter
	batchDeduped    prometheus.Counter
	batchFailed     prometheus.Counter

	outboundSent    *prometheus.CounterVec
	outboundDeduped *prometheus.CounterVec
	outboundFailed  *prometheus.CounterVec
	outboundLatency *prometheus.HistogramVec
}

// NewPromMetrics builds and registers the runtime's fixed instrument
// set under the given namespace (normally the connector id).
func NewPromMetrics(reg prometheus.Registerer, namespace string) *PromMetrics {
	m := &PromMetrics{
		webhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_received_total",
			Help: "Inbound events received, before dedupe.",
		}, []string{"capability"}),
		eventDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_deduped_total",
			Help: "Inbound events suppressed as duplicates.",
		}, []string{"capability"}),
		eventProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_processed_total",
			Help: "Inbound events dispatched to a handler successfully.",
		}, []string{"capability"}),
		eventFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_failed_total",
			Help: "Inbound events that failed (no handler or handler error).",
		}, []string{"capability", "error_code"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handler_latency_ms",
			Help:    "Per-event handling latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"capability"}),
		batchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_batch_total",
			Help: "Total events seen across all batch summaries.",
		}),
		batchProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_batch_processed",
			Help: "Processed events across all batch summaries.",
		}),
		batchDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_batch_deduped",
			Help: "Deduped events across all batch summaries.",
		}),
		batchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_batch_failed",
			Help: "Failed events across all batch summaries.",
		}),
		outboundSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_sent_total",
			Help: "Outbound intents sent to the provider.",
		}, []string{"provider"}),
		outboundDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_deduped_total",
			Help: "Outbound intents suppressed as duplicates.",
		}, []string{"provider"}),
		outboundFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_failed_total",
			Help: "Outbound intents that failed to send.",
		}, []string{"provider", "error_code"}),
		outboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "outbound_latency_ms",
			Help:    "Per-intent send latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.webhookReceived, m.eventDeduped, m.eventProcessed, m.eventFailed, m.handlerLatency,
			m.batchTotal, m.batchProcessed, m.batchDeduped, m.batchFailed,
			m.outboundSent, m.outboundDeduped, m.outboundFailed, m.outboundLatency,
		)
	}
	return m
}

func (m *PromMetrics) WebhookReceived(capability domain.Capability) {
	m.webhookReceived.WithLabelValues(string(capability)).Inc()
}

func (m *PromMetrics) EventDeduped(capability domain.Capability) {
	m.eventDeduped.WithLabelValues(string(capability)).Inc()
}

func (m *PromMetrics) EventProcessed(capability domain.Capability) {
	m.eventProcessed.WithLabelValues(string(capability)).Inc()
}

func (m *PromMetrics) EventFailed(capability domain.Capability, code domain.ErrorCode) {
	m.eventFailed.WithLabelValues(string(capability), string(code)).Inc()
}

func (m *PromMetrics) HandlerLatency(capability domain.Capability, ms float64) {
	m.handlerLatency.WithLabelValues(string(capability)).Observe(ms)
}

func (m *PromMetrics) BatchSummary(summary domain.BatchSummary) {
	m.batchTotal.Add(float64(summary.Total))
	m.batchProcessed.Add(float64(summary.Processed))
	m.batchDeduped.Add(float64(summary.Deduped))
	m.batchFailed.Add(float64(summary.Failed))
}

func (m *PromMetrics) OutboundSent(providerTag string) {
	m.outboundSent.WithLabelValues(providerTag).Inc()
}

func (m *PromMetrics) OutboundDeduped(providerTag string) {
	m.outboundDeduped.WithLabelValues(providerTag).Inc()
}

func (m *PromMetrics) OutboundFailed(providerTag string, code domain.ErrorCode) {
	m.outboundFailed.WithLabelValues(providerTag, string(code)).Inc()
}

func (m *PromMetrics) OutboundLatency(providerTag string, ms float64) {
	m.outboundLatency.WithLabelValues(providerTag).Observe(ms)
}

// ensure interface satisfaction at compile time.
var _ ports.Metrics = (*PromMetrics)(nil)
