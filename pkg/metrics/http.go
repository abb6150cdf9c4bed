package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics provides observability for the file delivery HTTP surface.
//
// The interface is optional: pass the result of NewHTTPMetrics to the worker
// server; when the registry is not initialized, it is a no-op with zero
// overhead.
type HTTPMetrics interface {
	// RecordRequest records a completed request with its response status and
	// duration.
	RecordRequest(status int, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart()

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd()

	// RecordBytesSent records response body bytes written to clients.
	RecordBytesSent(bytes int64)
}

// NewHTTPMetrics creates a Prometheus-backed HTTPMetrics instance, or a
// no-op one when the registry is not initialized.
func NewHTTPMetrics() HTTPMetrics {
	if !IsEnabled() {
		return noopHTTPMetrics{}
	}

	reg := GetRegistry()

	return &httpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "packserve_http_requests_total",
				Help: "Total number of HTTP requests by response status",
			},
			[]string{"status"},
		),
		requestDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "packserve_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "packserve_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		bytesSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "packserve_http_bytes_sent_total",
				Help: "Total response body bytes sent to clients",
			},
		),
	}
}

type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  prometheus.Histogram
	requestsInFlight prometheus.Gauge
	bytesSent        prometheus.Counter
}

func (m *httpMetrics) RecordRequest(status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func (m *httpMetrics) RecordRequestStart() {
	m.requestsInFlight.Inc()
}

func (m *httpMetrics) RecordRequestEnd() {
	m.requestsInFlight.Dec()
}

func (m *httpMetrics) RecordBytesSent(bytes int64) {
	m.bytesSent.Add(float64(bytes))
}

// noopHTTPMetrics is a no-op implementation of HTTPMetrics.
type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(status int, duration time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart()                              {}
func (noopHTTPMetrics) RecordRequestEnd()                                {}
func (noopHTTPMetrics) RecordBytesSent(bytes int64)                      {}
