package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qapish/labman/internal/core/ports"
)

const unknownLabel = "_unknown"

// PrometheusRecorder is the production MetricsRecorder. It owns its own
// registry so the exposition handler serves exactly the labman metric set.
type PrometheusRecorder struct {
	registry       *prometheus.Registry
	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
}

var _ ports.MetricsRecorder = (*PrometheusRecorder)(nil)

func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labman_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "model", "success"},
	)
	latencySeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labman_request_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "model"},
	)
	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labman_active_requests",
			Help: "Number of active proxied requests on this node",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labman_errors_total",
			Help: "Total number of errors encountered by this node",
		},
		[]string{"endpoint", "kind"},
	)

	registry.MustRegister(requestsTotal, latencySeconds, activeRequests, errorsTotal)

	return &PrometheusRecorder{
		registry:       registry,
		requestsTotal:  requestsTotal,
		latencySeconds: latencySeconds,
		activeRequests: activeRequests,
		errorsTotal:    errorsTotal,
	}
}

func (r *PrometheusRecorder) RecordRequestStart(endpoint, model string) {
	// counted on completion; the gauge is driven by SetActiveRequests
}

func (r *PrometheusRecorder) RecordRequestEnd(endpoint, model string, success bool, latencySeconds float64) {
	successLabel := "false"
	if success {
		successLabel = "true"
	}
	endpoint = orUnknown(endpoint)
	model = orUnknown(model)

	r.requestsTotal.WithLabelValues(endpoint, model, successLabel).Inc()
	if latencySeconds >= 0 {
		r.latencySeconds.WithLabelValues(endpoint, model).Observe(latencySeconds)
	}
}

func (r *PrometheusRecorder) RecordError(endpoint, kind string) {
	r.errorsTotal.WithLabelValues(orUnknown(endpoint), orUnknown(kind)).Inc()
}

func (r *PrometheusRecorder) SetActiveRequests(n int64) {
	r.activeRequests.Set(float64(n))
}

// Handler returns the exposition handler for the admin server's /metrics
// route.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func orUnknown(label string) string {
	if label == "" {
		return unknownLabel
	}
	return label
}
