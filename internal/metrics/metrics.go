// Package metrics exposes pricewatch counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricewatch"

type Metrics struct {
	registry *prometheus.Registry

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	listings     *prometheus.CounterVec
	skips        *prometheus.CounterVec
	fetchErrors  *prometheus.CounterVec
	refreshTotal *prometheus.CounterVec
	notifyErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"kind", "source", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_total",
			Help:      "Normalized listings handed to a save policy, by outcome.",
		}, []string{"source", "outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_skips_total",
			Help:      "Raw products dropped by the normalizer.",
		}, []string{"source", "reason"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed storefront queries.",
		}, []string{"source"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_records_total",
			Help:      "Refreshed merchant product rows, by outcome.",
		}, []string{"outcome"}),
		notifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "Failed notification deliveries.",
		}, []string{"notifier"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.listings,
		m.skips,
		m.fetchErrors,
		m.refreshTotal,
		m.notifyErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) JobFinished(kind, source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, source, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Listing records a save outcome: "saved" or the policy's reason.
func (m *Metrics) Listing(source, outcome string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Skip(source, reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) FetchError(source string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) RefreshRecord(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotifyError(notifier string) {
	if m == nil {
		return
	}
	m.notifyErrors.WithLabelValues(notifier).Inc()
}
