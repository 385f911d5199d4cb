package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric.
const Namespace = "tokenaction"

// Metrics groups the collectors exported by the daemon.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPErrors   *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	Actions        *prometheus.CounterVec
	ActionLatency  *prometheus.HistogramVec
	Submissions    *prometheus.CounterVec
	Invocations    *prometheus.GaugeVec
	AlertsNotified *prometheus.CounterVec
}

// New builds a Metrics bound to a fresh registry with process and Go
// runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by handler, method and status code",
		}, []string{"handler", "method", "code"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_request_errors_total",
			Help:      "HTTP requests answered with a 5xx status",
		}, []string{"handler", "method"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Executed actions by name and result code",
		}, []string{"action", "code"}),
		ActionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Action latency including address resolution and the chain call",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mint_submissions_total",
			Help:      "Mint submissions by chain and outcome (accepted, rejected, ambiguous, failed)",
		}, []string{"chain", "outcome"}),
		Invocations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "invocations",
			Help:      "Stored invocations by status",
		}, []string{"status"}),
		AlertsNotified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "alerts_total",
			Help:      "Alert events dispatched by error code",
		}, []string{"code"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		m.HTTPErrors.WithLabelValues(handler, method).Inc()
	}
	m.HTTPLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveAction records one action execution. code is "OK" on success.
func (m *Metrics) ObserveAction(action, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, code).Inc()
	m.ActionLatency.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveSubmission counts a mint submission outcome.
func (m *Metrics) ObserveSubmission(chain, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(chain, outcome).Inc()
}

// SetInvocations publishes the stored invocation count for a status.
func (m *Metrics) SetInvocations(status string, count int) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(status).Set(float64(count))
}

// ObserveAlert counts a dispatched alert.
func (m *Metrics) ObserveAlert(code string) {
	if m == nil {
		return
	}
	m.AlertsNotified.WithLabelValues(code).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var defaultMetrics = New()

// Default returns the process wide metrics set.
func Default() *Metrics {
	return defaultMetrics
}

// ObserveHTTPRequest records an HTTP request on the default metrics set.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultMetrics.ObserveHTTPRequest(handler, method, status, duration)
}

// Handler exposes the default metrics set.
func Handler() http.Handler {
	return defaultMetrics.Handler()
}
