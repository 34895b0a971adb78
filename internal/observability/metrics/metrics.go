// Package metrics exposes errintake's prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "errintake"

// Metrics holds the registry and every collector the service records into.
type Metrics struct {
	registry *prometheus.Registry

	errorsIngested *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	actions        *prometheus.CounterVec
	ruleUpserts    *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates a Metrics with its own registry. Go runtime and process
// collectors are registered alongside the service collectors.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		errorsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_ingested_total",
				Help:      "Error records stored, by severity.",
			},
			[]string{"severity"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_resolutions_total",
				Help:      "Rule resolution outcomes for stored errors.",
			},
			[]string{"outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_actions_total",
				Help:      "Notification actions dispatched, by action and status.",
			},
			[]string{"action", "status"},
		),
		ruleUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_upserts_total",
				Help:      "Notification rule upserts, by result.",
			},
			[]string{"result"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and status code.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "code"},
		),
	}

	toRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.errorsIngested,
		m.resolutions,
		m.actions,
		m.ruleUpserts,
		m.httpDuration,
	}
	for _, c := range toRegister {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordIngest counts a stored error record.
func (m *Metrics) RecordIngest(severity string) {
	if m == nil {
		return
	}
	m.errorsIngested.WithLabelValues(severity).Inc()
}

// RecordResolution counts a rule resolution outcome.
func (m *Metrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// RecordAction counts a dispatched notification action.
func (m *Metrics) RecordAction(action string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.actions.WithLabelValues(action, status).Inc()
}

// RecordUpsert counts a rule upsert result: created, updated or conflict.
func (m *Metrics) RecordUpsert(result string) {
	if m == nil {
		return
	}
	m.ruleUpserts.WithLabelValues(result).Inc()
}

// ObserveHTTP records the latency of one HTTP request. route is the
// registered path pattern, never the raw URL.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
