// Package telemetry implements best-effort connection accounting across
// worker processes.
//
// Each worker owns a single in-flight counter and reports its value to the
// supervisor on every change over a one-way pipe. Frames are fire-and-forget:
// a dropped frame skews the aggregate until the worker's next update, which
// is an accepted inaccuracy, not a correctness requirement. No retry or ack
// logic belongs here.
package telemetry

import (
	"bytes"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Frame kinds understood by the aggregator.
const (
	// KindConnectionCount carries a worker's current in-flight total.
	KindConnectionCount uint32 = 1
)

// frameSize is the XDR-encoded size of a CountFrame: three uint32 fields.
const frameSize = 12

// CountFrame is the single message type on the worker->supervisor channel.
// Value is the worker's current count, not a delta, so the stream is
// self-correcting after a lost frame.
type CountFrame struct {
	Kind     uint32
	WorkerID uint32
	Value    uint32
}

// WriteFrame XDR-encodes a frame onto w.
func WriteFrame(w io.Writer, frame *CountFrame) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, frame); err != nil {
		return fmt.Errorf("marshal telemetry frame: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write telemetry frame: %w", err)
	}
	return nil
}

// ReadFrame decodes the next frame from r. Returns io.EOF when the stream
// ends cleanly between frames so callers can terminate their read loop.
func ReadFrame(r io.Reader) (*CountFrame, error) {
	raw := make([]byte, frameSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read telemetry frame: %w", err)
	}

	frame := &CountFrame{}
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), frame); err != nil {
		return nil, fmt.Errorf("unmarshal telemetry frame: %w", err)
	}

	if frame.Kind != KindConnectionCount {
		return nil, fmt.Errorf("unknown telemetry frame kind %d", frame.Kind)
	}

	return frame, nil
}
