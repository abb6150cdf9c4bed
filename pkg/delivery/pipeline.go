package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"packserve/internal/logger"
)

// gzipLevel favors speed over ratio; large archive payloads do not reward
// higher levels.
const gzipLevel = 3

// defaultChunkSize is used when a plan carries no usable chunk size.
const defaultChunkSize = 64 * 1024

// Sink receives the response. http.ResponseWriter satisfies it.
//
// Headers must be finalized before the first body byte; Deliver calls
// WriteHeader exactly once, before writing anything else.
type Sink interface {
	Header() http.Header
	WriteHeader(statusCode int)
	io.Writer
}

// Pipeline executes delivery plans: it opens a bounded read window on the
// resolved file and pipes it, optionally through a streaming gzip encoder,
// into the sink.
//
// The transfer is a single linear source -> [compressor] -> sink chain.
// Reads happen one chunk at a time and each chunk is fully written before
// the next read, so a slow sink throttles the source and memory stays
// bounded by the chunk size, not the file size.
type Pipeline struct {
	fs afero.Fs
}

// NewPipeline creates a Pipeline reading from the given filesystem.
func NewPipeline(fsys afero.Fs) *Pipeline {
	return &Pipeline{fs: fsys}
}

// Deliver streams the planned response into the sink.
//
// The file is opened before any header is written, so open failures can
// still be answered with a clean error status: these return ErrTransfer and
// nothing has been sent. Once the status line is out, any failure returns
// ErrAborted; the caller can only log and drop the connection.
//
// includeBody is false for HEAD requests: headers are written, the body is
// skipped. 416 plans never carry a body regardless.
//
// Returns the number of bytes written to the sink.
func (p *Pipeline) Deliver(ctx context.Context, plan *Plan, file *ResolvedFile, sink Sink, includeBody bool) (int64, error) {
	if plan.Status == http.StatusRequestedRangeNotSatisfiable {
		writeHead(sink, plan)
		return 0, nil
	}

	src, err := p.fs.Open(file.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %v: %w", file.Path, err, ErrTransfer)
	}
	defer src.Close()

	start, length := int64(0), file.Size
	if plan.Window != nil {
		start, length = plan.Window.Start, plan.Window.Length()
	}
	section := io.NewSectionReader(src, start, length)

	writeHead(sink, plan)
	if !includeBody {
		return 0, nil
	}

	var sent int64
	var dst io.Writer = sink

	var gz *gzip.Writer
	if plan.ContentEncoding == "gzip" {
		gz, err = gzip.NewWriterLevel(&countingWriter{w: sink, n: &sent}, gzipLevel)
		if err != nil {
			return 0, fmt.Errorf("gzip init: %v: %w", err, ErrAborted)
		}
		dst = gz
	}

	chunk := plan.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	buf := make([]byte, chunk)

	for {
		if err := ctx.Err(); err != nil {
			return sent, fmt.Errorf("%v: %w", err, ErrAborted)
		}

		n, rerr := section.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			if gz == nil {
				sent += int64(wn)
			}
			if werr != nil {
				return sent, fmt.Errorf("write: %v: %w", werr, ErrAborted)
			}
			// Flush after every chunk so slow clients see partial output
			// instead of the encoder buffering until end-of-stream.
			if gz != nil {
				if ferr := gz.Flush(); ferr != nil {
					return sent, fmt.Errorf("gzip flush: %v: %w", ferr, ErrAborted)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sent, fmt.Errorf("read %s: %v: %w", file.Path, rerr, ErrAborted)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return sent, fmt.Errorf("gzip close: %v: %w", err, ErrAborted)
		}
	}

	logger.Debug("delivered %s: status=%d bytes=%d encoding=%q", file.Path, plan.Status, sent, plan.ContentEncoding)
	return sent, nil
}

// writeHead applies the plan's headers and commits the status line.
func writeHead(sink Sink, plan *Plan) {
	h := sink.Header()
	h.Set("Content-Type", plan.ContentType)
	for name, value := range plan.Header {
		h.Set(name, value)
	}
	if plan.ContentEncoding != "" {
		h.Set("Content-Encoding", plan.ContentEncoding)
	}
	if plan.ContentLength >= 0 && plan.ContentEncoding == "" {
		h.Set("Content-Length", strconv.FormatInt(plan.ContentLength, 10))
	}
	sink.WriteHeader(plan.Status)
}

// countingWriter counts bytes that actually reach the sink (post-encoding).
type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
