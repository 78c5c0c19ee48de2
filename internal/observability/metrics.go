// Package observability holds the Prometheus metrics and Sentry reporting
// shared by the alerting pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertd"

// Metrics is the set of alertd collectors on a private registry. All methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	SamplesTotal       *prometheus.CounterVec
	RuleOutcomesTotal  *prometheus.CounterVec
	SuppressedTotal    *prometheus.CounterVec
	DeliveriesTotal    *prometheus.CounterVec
	DeliveryDuration   *prometheus.HistogramVec
	EvaluationDuration prometheus.Histogram
	AuthorizedUsers    prometheus.Histogram
	OwnerFallbackTotal prometheus.Counter
	BusDroppedTotal    prometheus.Counter
	BusQueueDepth      prometheus.Gauge
	PanicsTotal        *prometheus.CounterVec
}

// NewMetrics registers every collector plus the Go runtime and process
// collectors on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_samples_total",
				Help:      "Telemetry samples received",
			},
			[]string{"source", "status"}, // status: accepted, rejected
		),
		RuleOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_outcomes_total",
				Help:      "Per-rule evaluation outcomes",
			},
			[]string{"state", "reason"},
		),
		SuppressedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suppressed_total",
				Help:      "Firings denied by the suppression store",
			},
			[]string{"reason"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Notification deliveries by channel and final status",
			},
			[]string{"channel", "status"},
		),
		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time spent sending one notification",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		EvaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Time to evaluate one telemetry sample end to end",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		AuthorizedUsers: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authorized_users",
				Help:      "Authorized users resolved per sample",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		OwnerFallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "owner_fallback_total",
				Help:      "Samples evaluated for the device owner only after the access list lookup failed",
			},
		),
		BusDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sample_bus_dropped_total",
				Help:      "Samples dropped because the bus buffer was full",
			},
		),
		BusQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sample_bus_queue_depth",
				Help:      "Samples waiting in the bus buffer",
			},
		),
		PanicsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovered_panics_total",
				Help:      "Panics recovered at an isolation boundary",
			},
			[]string{"scope"}, // scope: sample, user, rule, dispatch, bus
		),
	}
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SampleReceived(source, status string) {
	if m == nil {
		return
	}
	m.SamplesTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RuleOutcome(state, reason string) {
	if m == nil {
		return
	}
	m.RuleOutcomesTotal.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.SuppressedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Delivery(channel, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(channel, status).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *Metrics) Evaluation(elapsed time.Duration, users int, fallback bool) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(elapsed.Seconds())
	m.AuthorizedUsers.Observe(float64(users))
	if fallback {
		m.OwnerFallbackTotal.Inc()
	}
}

func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.BusDroppedTotal.Inc()
}

func (m *Metrics) BusDepth(depth int) {
	if m == nil {
		return
	}
	m.BusQueueDepth.Set(float64(depth))
}

func (m *Metrics) Panic(scope string) {
	if m == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(scope).Inc()
}
