// Package metrics holds the Prometheus instruments for audit streaming.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcome labels.
const (
	OutcomeStreamed = "streamed"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeEmpty    = "empty"
)

// Metrics holds Prometheus metrics for audit streaming.
type Metrics struct {
	gatherer prometheus.Gatherer

	Dispatches        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryDuration  prometheus.Histogram
	AdmissionRejected prometheus.Counter
	InFlight          prometheus.Gauge
	CacheTTLSeconds   prometheus.Gauge
}

// New creates Metrics registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the instruments on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditstream_dispatches_total",
			Help: "Audit event dispatches by terminal outcome",
		}, []string{"outcome"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditstream_deliveries_total",
			Help: "Outbound deliveries by scope kind and result",
		}, []string{"scope", "result"}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditstream_delivery_duration_seconds",
			Help:    "Latency of outbound deliveries",
			Buckets: prometheus.DefBuckets,
		}),
		AdmissionRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "auditstream_admission_rejected_total",
			Help: "Dispatches rejected because the concurrent request limit was reached",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditstream_deliveries_in_flight",
			Help: "Deliveries currently holding an admission slot",
		}),
		CacheTTLSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditstream_destination_cache_ttl_seconds",
			Help: "Configured destination cache lifetime",
		}),
	}
}

// IncDispatch counts one dispatch outcome.
func (m *Metrics) IncDispatch(outcome string) {
	m.Dispatches.WithLabelValues(outcome).Inc()
}

// ObserveDelivery records one delivery result.
func (m *Metrics) ObserveDelivery(scopeKind string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Deliveries.WithLabelValues(scopeKind, result).Inc()
	m.DeliveryDuration.Observe(d.Seconds())
}

// IncAdmissionRejected counts one rejected dispatch.
func (m *Metrics) IncAdmissionRejected() {
	m.AdmissionRejected.Inc()
}

// SetInFlight updates the in-flight gauge.
func (m *Metrics) SetInFlight(n int) {
	m.InFlight.Set(float64(n))
}

// SetCacheTTL records the configured cache lifetime.
func (m *Metrics) SetCacheTTL(ttl time.Duration) {
	m.CacheTTLSeconds.Set(ttl.Seconds())
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
