// Package monitoring exposes Prometheus metrics and the live prediction feed.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	Predictions        *prometheus.CounterVec
	PredictionErrors   *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	ModelLoads         *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	FeedClients        prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, so tests and
// multiple servers in one process never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindelay_predictions_total",
				Help: "Predictions served, by model and predicted delay category",
			},
			[]string{"model", "label"},
		),
		PredictionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindelay_prediction_errors_total",
				Help: "Failed predictions, by model and failing stage",
			},
			[]string{"model", "stage"}, // stage: validate|model|encode|predict|decode
		),
		PredictionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traindelay_prediction_duration_seconds",
				Help:    "Time to encode and predict one request",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"model"},
		),
		ModelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindelay_model_loads_total",
				Help: "Model bundle loads from disk",
			},
			[]string{"model", "status"}, // status: success|error
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindelay_http_requests_total",
				Help: "HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		FeedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "traindelay_feed_clients",
				Help: "Connected live feed clients",
			},
		),
	}
	m.registry.MustRegister(
		m.Predictions,
		m.PredictionErrors,
		m.PredictionDuration,
		m.ModelLoads,
		m.HTTPRequests,
		m.FeedClients,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObservePrediction(model, label string, elapsed time.Duration) {
	m.Predictions.WithLabelValues(model, label).Inc()
	m.PredictionDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) PredictionFailed(model, stage string) {
	m.PredictionErrors.WithLabelValues(model, stage).Inc()
}

// ModelLoaded matches the registry OnLoad hook.
func (m *Metrics) ModelLoaded(model string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelLoads.WithLabelValues(model, status).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Registry returns the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
