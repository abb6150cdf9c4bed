package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SupervisorMetrics provides observability for the worker fleet.
type SupervisorMetrics interface {
	// SetWorkerConnections updates the latest connection count reported by
	// a worker.
	SetWorkerConnections(workerID uint32, count uint32)

	// RecordWorkerRestart increments the restart counter for a worker.
	RecordWorkerRestart(workerID uint32)
}

// NewSupervisorMetrics creates a Prometheus-backed SupervisorMetrics
// instance, or a no-op one when the registry is not initialized.
func NewSupervisorMetrics() SupervisorMetrics {
	if !IsEnabled() {
		return noopSupervisorMetrics{}
	}

	reg := GetRegistry()

	return &supervisorMetrics{
		workerConnections: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "packserve_worker_connections",
				Help: "Latest active connection count reported per worker",
			},
			[]string{"worker"},
		),
		workerRestarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "packserve_worker_restarts_total",
				Help: "Total number of worker process restarts",
			},
			[]string{"worker"},
		),
	}
}

type supervisorMetrics struct {
	workerConnections *prometheus.GaugeVec
	workerRestarts    *prometheus.CounterVec
}

func (m *supervisorMetrics) SetWorkerConnections(workerID uint32, count uint32) {
	m.workerConnections.WithLabelValues(strconv.FormatUint(uint64(workerID), 10)).Set(float64(count))
}

func (m *supervisorMetrics) RecordWorkerRestart(workerID uint32) {
	m.workerRestarts.WithLabelValues(strconv.FormatUint(uint64(workerID), 10)).Inc()
}

// noopSupervisorMetrics is a no-op implementation of SupervisorMetrics.
type noopSupervisorMetrics struct{}

func (noopSupervisorMetrics) SetWorkerConnections(workerID uint32, count uint32) {}
func (noopSupervisorMetrics) RecordWorkerRestart(workerID uint32)                {}
