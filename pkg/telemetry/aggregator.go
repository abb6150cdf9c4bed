package telemetry

import (
	"context"
	"io"
	"sync"
	"time"

	"packserve/internal/logger"
)

// Aggregator merges per-worker connection counts into a process-wide view.
//
// It keeps the latest value received from each worker and periodically logs
// the sum. The aggregate is advisory observability only; it is never used
// for admission control.
type Aggregator struct {
	mu     sync.Mutex
	counts map[uint32]uint32

	// onUpdate, when set, observes every accepted frame. The supervisor
	// wires this to the per-worker Prometheus gauge.
	onUpdate func(workerID uint32, value uint32)
}

// NewAggregator creates an empty Aggregator. onUpdate may be nil.
func NewAggregator(onUpdate func(workerID uint32, value uint32)) *Aggregator {
	return &Aggregator{
		counts:   make(map[uint32]uint32),
		onUpdate: onUpdate,
	}
}

// Watch consumes frames from one worker's pipe until EOF, the context ends
// or the stream turns malformed. Intended to run in its own goroutine, one
// per worker.
//
// Malformed frames terminate the watch: the pipe carries fixed-size frames,
// so a decode error means the stream is out of sync and cannot recover.
func (a *Aggregator) Watch(ctx context.Context, workerID uint32, r io.Reader) {
	for {
		frame, err := ReadFrame(r)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Warn("telemetry stream from worker %d: %v", workerID, err)
			}
			return
		}

		a.set(frame.WorkerID, frame.Value)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Forget zeroes a worker's contribution, used when the worker exits so a
// crashed worker's stale in-flight count does not linger in the aggregate.
func (a *Aggregator) Forget(workerID uint32) {
	a.set(workerID, 0)
}

// Total returns the sum of the latest counts across workers.
func (a *Aggregator) Total() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total uint32
	for _, v := range a.counts {
		total += v
	}
	return total
}

// Run logs the aggregate total every interval until the context ends.
// An interval of zero disables periodic logging and returns immediately.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("active connections: %d", a.Total())
		}
	}
}

func (a *Aggregator) set(workerID, value uint32) {
	a.mu.Lock()
	a.counts[workerID] = value
	a.mu.Unlock()

	if a.onUpdate != nil {
		a.onUpdate(workerID, value)
	}
}
