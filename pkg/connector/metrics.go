// Copyright 2024-2026 Aiku AI

package connector

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "stickerbot"

// Metrics holds the bot's Prometheus collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	inbound     *prometheus.CounterVec
	conversions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	replies     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rebuilds    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by classified route.",
		}, []string{"route"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "conversions_total",
			Help:      "Media conversions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "conversion_retries_total",
			Help:      "Media conversion retries by kind.",
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replies_total",
			Help:      "Outbound replies by type and result.",
		}, []string{"type", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"state"}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_rebuilds_total",
			Help:      "Automatic connection rebuilds.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inbound, m.conversions, m.retries, m.replies, m.transitions, m.rebuilds,
	)
	return m
}

// registerState exposes the current connection state as gauges.
func (m *Metrics) registerState(state func() *Snapshot) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while the WhatsApp session is connected.",
		}, func() float64 {
			if state().State == StateConnected {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 initializing, 1 awaiting scan, 2 connected, 3 disconnected.",
		}, func() float64 {
			return float64(state().State)
		}),
	)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) inboundMessage(route string) {
	if m != nil {
		m.inbound.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) conversion(kind, outcome string) {
	if m != nil {
		m.conversions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) conversionRetry(kind string) {
	if m != nil {
		m.retries.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) reply(typ string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.replies.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) transition(state ConnState) {
	if m != nil {
		m.transitions.WithLabelValues(state.String()).Inc()
	}
}

func (m *Metrics) rebuild() {
	if m != nil {
		m.rebuilds.Inc()
	}
}
