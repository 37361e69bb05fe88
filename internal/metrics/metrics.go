package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	requestCount      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	predictions       *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	modelLoads        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifier_predictions_total",
				Help: "Predictions served, by class label",
			}, []string{"label"},
		),
		inferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "classifier_inference_duration_seconds",
				Help:    "Duration of model forward passes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		modelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifier_model_loads_total",
				Help: "Model load attempts, by artifact source and result",
			}, []string{"source", "result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCount,
		m.requestDuration,
		m.predictions,
		m.inferenceDuration,
		m.modelLoads,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(path, method string, status int, elapsed time.Duration) {
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

func (m *Metrics) ModelLoaded(source string, _ time.Duration) {
	m.modelLoads.WithLabelValues(source, "success").Inc()
}

func (m *Metrics) ModelLoadFailed() {
	m.modelLoads.WithLabelValues("none", "failure").Inc()
}

func (m *Metrics) Predicted(label string, elapsed time.Duration) {
	m.predictions.WithLabelValues(label).Inc()
	m.inferenceDuration.Observe(elapsed.Seconds())
}
