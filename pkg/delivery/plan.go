package delivery

import (
	"fmt"
	"net/http"
	"strings"
)

// Plan captures every decision for one response: status, headers, the byte
// window to read and the chunk size to read it with. It is derived once per
// request and never mutated afterward.
type Plan struct {
	// Status is 200 (full), 206 (partial) or 416 (unsatisfiable range).
	Status int

	// ContentType is the MIME type reported to the client.
	ContentType string

	// ContentLength is the exact body length in bytes, or -1 when unknown
	// ahead of encoding (gzip). A -1 length omits the Content-Length header
	// and lets the transport use chunked encoding.
	ContentLength int64

	// ContentEncoding is "" or "gzip".
	ContentEncoding string

	// Window is the byte interval to serve, nil for the whole file.
	// Ranged responses are never compressed: byte ranges address the stored
	// representation, not a dynamically encoded one.
	Window *ByteRange

	// ChunkSize is the I/O granularity for the read loop.
	ChunkSize int

	// Header holds the response headers the plan mandates (Cache-Control,
	// Accept-Ranges, Last-Modified, Content-Range where applicable).
	Header map[string]string
}

// PlannerConfig holds the thresholds that drive planning decisions.
type PlannerConfig struct {
	// ChunkSize is the default read chunk size in bytes.
	ChunkSize int

	// LargeFileSize is the size above which the chunk size is halved,
	// trading peak memory for smoother throughput on big transfers.
	LargeFileSize int64

	// CompressMinSize is the size a file must exceed before gzip is
	// considered; compressing trivially small payloads is wasted work.
	CompressMinSize int64

	// CompressMaxSize is the size at or above which gzip is skipped; on huge
	// archives the CPU cost outweighs the ratio.
	CompressMaxSize int64

	// CacheMaxAge is the max-age value for the Cache-Control header,
	// in seconds.
	CacheMaxAge int
}

// Planner derives a Plan from a resolved file and request headers.
// Plan is a pure function of its inputs: identical file metadata and headers
// always produce identical plans.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a Planner. Zero thresholds keep their zero meaning
// (e.g. CompressMaxSize 0 disables compression entirely); callers are
// expected to pass config that went through ApplyDefaults.
func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Plan decides full vs. partial content, compression, and chunk size.
//
// Decision order:
//  1. A present Range header wins: invalid ranges yield a 416 plan with no
//     body; valid ones a 206 plan with the window set. Gzip never applies.
//  2. Otherwise 200. Gzip applies only when the client accepts it, the type
//     is compressible and the size falls between the two thresholds.
func (p *Planner) Plan(file *ResolvedFile, rangeHeader, acceptEncoding string) *Plan {
	mime, compressible := Classify(file.Path)

	plan := &Plan{
		Status:        http.StatusOK,
		ContentType:   mime,
		ContentLength: file.Size,
		ChunkSize:     p.chunkSize(file.Size),
		Header: map[string]string{
			"Cache-Control": fmt.Sprintf("public, max-age=%d", p.cfg.CacheMaxAge),
			"Accept-Ranges": "bytes",
			"Last-Modified": file.ModTime.UTC().Format(http.TimeFormat),
		},
	}

	if rangeHeader != "" {
		window, err := ParseRange(rangeHeader, file.Size)
		if err != nil {
			plan.Status = http.StatusRequestedRangeNotSatisfiable
			plan.ContentLength = 0
			plan.Header["Content-Range"] = fmt.Sprintf("bytes */%d", file.Size)
			return plan
		}

		plan.Status = http.StatusPartialContent
		plan.Window = window
		plan.ContentLength = window.Length()
		plan.Header["Content-Range"] = window.ContentRange(file.Size)
		return plan
	}

	if p.shouldCompress(acceptEncoding, compressible, file.Size) {
		plan.ContentEncoding = "gzip"
		plan.ContentLength = -1
	}

	return plan
}

func (p *Planner) shouldCompress(acceptEncoding string, compressible bool, size int64) bool {
	return compressible &&
		strings.Contains(acceptEncoding, "gzip") &&
		size > p.cfg.CompressMinSize &&
		size < p.cfg.CompressMaxSize
}

func (p *Planner) chunkSize(size int64) int {
	if size > p.cfg.LargeFileSize {
		return p.cfg.ChunkSize / 2
	}
	return p.cfg.ChunkSize
}
