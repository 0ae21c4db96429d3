// Package metrics exposes Prometheus collectors for the domain watcher
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "domain_watch"

// statuses lists the label values of the status gauge
var statuses = []string{"unknown", "available", "registered", "expired"}

// Metrics holds all collectors on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal        *prometheus.CounterVec
	LookupErrorsTotal  *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	PersistenceErrors  *prometheus.CounterVec
	PassesTotal        prometheus.Counter

	CheckDuration   prometheus.Histogram
	DaysUntilExpiry *prometheus.GaugeVec
	DomainStatus    *prometheus.GaugeVec
	LastPass        prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Domain checks by resulting status",
			},
			[]string{"status"},
		),
		LookupErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_errors_total",
				Help:      "Failed lookups by kind",
			},
			[]string{"kind"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications by kind and delivery result",
			},
			[]string{"kind", "result"},
		),
		PersistenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_errors_total",
				Help:      "History store failures by operation",
			},
			[]string{"op"},
		),
		PassesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Completed passes over the watch list",
			},
		),
		CheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Time spent checking one domain",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		DaysUntilExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "days_until_expiry",
				Help:      "Days until the registration expires, negative once expired",
			},
			[]string{"domain"},
		),
		DomainStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "domain_status",
				Help:      "1 for the current status of each domain",
			},
			[]string{"domain", "status"},
		),
		LastPass: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_pass_timestamp_seconds",
				Help:      "Unix time the last pass finished",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCheck records the outcome of one domain check
func (m *Metrics) ObserveCheck(domain, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(status).Inc()
	m.CheckDuration.Observe(took.Seconds())
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.DomainStatus.WithLabelValues(domain, s).Set(v)
	}
}

// ObserveExpiry sets the days left for domain, or drops the series when unknown
func (m *Metrics) ObserveExpiry(domain string, days int, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.DaysUntilExpiry.DeleteLabelValues(domain)
		return
	}
	m.DaysUntilExpiry.WithLabelValues(domain).Set(float64(days))
}

// LookupError counts a failed lookup
func (m *Metrics) LookupError(kind string) {
	if m == nil {
		return
	}
	m.LookupErrorsTotal.WithLabelValues(kind).Inc()
}

// Notification counts a notification attempt
func (m *Metrics) Notification(kind string, delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// PersistenceError counts a failed store operation
func (m *Metrics) PersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}

// PassCompleted records the end of a pass
func (m *Metrics) PassCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.PassesTotal.Inc()
	m.LastPass.Set(float64(at.Unix()))
}

// Forget drops the per-domain series of a domain no longer watched
func (m *Metrics) Forget(domain string) {
	if m == nil {
		return
	}
	m.DaysUntilExpiry.DeleteLabelValues(domain)
	m.DomainStatus.DeletePartialMatch(prometheus.Labels{"domain": domain})
}
