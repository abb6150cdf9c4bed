package telemetry

import (
	"io"
	"sync"
	"sync/atomic"

	"packserve/internal/logger"
)

// Counter is a worker's in-flight request counter.
//
// The counter is owned by exactly one worker process; the supervisor only
// ever sees the values it emits. Every change pushes a CountFrame to the
// sink. Send failures are logged and dropped.
//
// Thread safety: Track and Value may be called concurrently from any
// goroutine; frame writes are serialized so frames never interleave on the
// pipe.
type Counter struct {
	workerID uint32
	value    atomic.Int32

	// sendMu serializes frame writes to the sink.
	sendMu sync.Mutex
	sink   io.Writer
}

// NewCounter creates a Counter for the given worker. sink may be nil, in
// which case the counter only counts locally (used in tests and when the
// worker runs without a supervisor).
func NewCounter(workerID uint32, sink io.Writer) *Counter {
	return &Counter{workerID: workerID, sink: sink}
}

// Track registers the start of a request and returns its finalizer.
//
// The finalizer decrements the counter and must be called exactly once when
// the request finishes or its connection closes early, whichever happens
// first. It is guarded by a one-shot flag, so calling it from both triggers
// cannot double-decrement.
func (c *Counter) Track() (done func()) {
	c.bump(1)

	var finished atomic.Bool
	return func() {
		if finished.CompareAndSwap(false, true) {
			c.bump(-1)
		}
	}
}

// Value returns the current in-flight count.
func (c *Counter) Value() int32 {
	return c.value.Load()
}

func (c *Counter) bump(delta int32) {
	v := c.value.Add(delta)
	if v < 0 {
		// Should be unreachable given the one-shot finalizer.
		logger.Warn("connection counter for worker %d went negative (%d)", c.workerID, v)
		c.value.Store(0)
		v = 0
	}
	c.publish(uint32(v))
}

// publish sends the current value to the supervisor, fire-and-forget.
func (c *Counter) publish(value uint32) {
	if c.sink == nil {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	frame := &CountFrame{Kind: KindConnectionCount, WorkerID: c.workerID, Value: value}
	if err := WriteFrame(c.sink, frame); err != nil {
		logger.Debug("dropping telemetry frame for worker %d: %v", c.workerID, err)
	}
}
