// Package metrics provides Prometheus metrics for the transformation engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// Metrics holds all Prometheus metrics of the engine
type Metrics struct {
	// Transformation metrics
	TransformationsTotal     *prometheus.CounterVec
	TransformationsInFlight  prometheus.Gauge
	TransformationDuration   *prometheus.HistogramVec
	SelectionsTotal          *prometheus.CounterVec
	RegisteredWorkers        *prometheus.GaugeVec
	ExportedCompositeConfigs prometheus.Gauge

	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Content metrics
	BytesReceived prometheus.Counter
	BytesSent     prometheus.Counter

	// Work directory metrics
	WorkDirBytes       prometheus.Gauge
	WorkDirsSweptTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics (singleton pattern to avoid double registration)
func New() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewWithRegisterer creates metrics registered with reg instead of the default registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransformationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "transformations",
				Name:      "total",
				Help:      "Total number of transformations by worker and outcome",
			},
			[]string{"worker", "status"},
		),
		TransformationsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "transformer",
				Subsystem: "transformations",
				Name:      "in_flight",
				Help:      "Number of transformations currently running",
			},
		),
		TransformationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "transformer",
				Subsystem: "transformations",
				Name:      "duration_seconds",
				Help:      "Duration of the transformation phase in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"worker"},
		),
		SelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "selection",
				Name:      "total",
				Help:      "Worker selections by result (found, none)",
			},
			[]string{"result"},
		),
		RegisteredWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "transformer",
				Subsystem: "registry",
				Name:      "workers",
				Help:      "Number of registered workers by kind",
			},
			[]string{"kind"},
		),
		ExportedCompositeConfigs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "transformer",
				Subsystem: "registry",
				Name:      "composite_configs",
				Help:      "Number of loaded pipeline and failover configurations",
			},
		),

		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of API requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "transformer",
				Subsystem: "api",
				Name:      "latency_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
			},
			[]string{"endpoint", "method"},
		),

		BytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "content",
				Name:      "bytes_received_total",
				Help:      "Total bytes of source content received",
			},
		),
		BytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "content",
				Name:      "bytes_sent_total",
				Help:      "Total bytes of transformation results sent",
			},
		),

		WorkDirBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "transformer",
				Subsystem: "workdir",
				Name:      "bytes",
				Help:      "Bytes held in request work directories at the last sweep",
			},
		),
		WorkDirsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "transformer",
				Subsystem: "workdir",
				Name:      "swept_total",
				Help:      "Stale work directories removed by the sweeper",
			},
		),
	}

	reg.MustRegister(
		m.TransformationsTotal,
		m.TransformationsInFlight,
		m.TransformationDuration,
		m.SelectionsTotal,
		m.RegisteredWorkers,
		m.ExportedCompositeConfigs,
		m.APIRequests,
		m.APILatency,
		m.BytesReceived,
		m.BytesSent,
		m.WorkDirBytes,
		m.WorkDirsSweptTotal,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransformationStarted increments the in-flight gauge
func (m *Metrics) RecordTransformationStarted() {
	m.TransformationsInFlight.Inc()
}

// RecordTransformationFinished records the outcome of a transformation started with
// RecordTransformationStarted
func (m *Metrics) RecordTransformationFinished(worker, status string, durationSeconds float64) {
	m.TransformationsInFlight.Dec()
	m.TransformationsTotal.WithLabelValues(worker, status).Inc()
	if durationSeconds >= 0 {
		m.TransformationDuration.WithLabelValues(worker).Observe(durationSeconds)
	}
}

// RecordSelection records whether a worker was found for a request
func (m *Metrics) RecordSelection(found bool) {
	result := "none"
	if found {
		result = "found"
	}
	m.SelectionsTotal.WithLabelValues(result).Inc()
}

// SetRegistryCounts sets the registry gauges
func (m *Metrics) SetRegistryCounts(transformers, extracters, composites int) {
	m.RegisteredWorkers.WithLabelValues("transformer").Set(float64(transformers))
	m.RegisteredWorkers.WithLabelValues("metadata_extracter").Set(float64(extracters))
	m.ExportedCompositeConfigs.Set(float64(composites))
}

// RecordAPIRequest records an API request
func (m *Metrics) RecordAPIRequest(endpoint, method, status string, latencySeconds float64) {
	m.APIRequests.WithLabelValues(endpoint, method, status).Inc()
	m.APILatency.WithLabelValues(endpoint, method).Observe(latencySeconds)
}

// RecordBytesReceived records source bytes received
func (m *Metrics) RecordBytesReceived(bytes int64) {
	m.BytesReceived.Add(float64(bytes))
}

// RecordBytesSent records result bytes sent
func (m *Metrics) RecordBytesSent(bytes int64) {
	m.BytesSent.Add(float64(bytes))
}

// RecordSweep records the outcome of one work directory sweep
func (m *Metrics) RecordSweep(removed int, remainingBytes int64) {
	m.WorkDirsSweptTotal.Add(float64(removed))
	m.WorkDirBytes.Set(float64(remainingBytes))
}
