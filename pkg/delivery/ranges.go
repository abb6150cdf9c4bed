package delivery

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is a client-requested contiguous interval of a file's bytes.
// Both bounds are inclusive; invariants: 0 <= Start <= End < file size.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for a 206 response.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange parses a Range header value against a file size.
//
// Only the single-interval form "bytes=<start>-[<end>]" is accepted; a
// missing end defaults to size-1. Multi-range sets ("bytes=0-10,20-30") are
// rejected outright rather than partially honored.
//
// Returns:
//   - (nil, nil) when header is empty (no range requested)
//   - (*ByteRange, nil) for a valid range
//   - (nil, ErrInvalidRange) for anything unparsable, inverted or out of
//     bounds; the caller must respond 416 with "bytes */<size>"
//
// Explicit bounds >= size are rejected, not clamped, matching the behavior
// the endpoint has always had.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("unit in %q: %w", header, ErrInvalidRange)
	}

	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("multi-range %q: %w", header, ErrInvalidRange)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%q: %w", header, ErrInvalidRange)
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("start in %q: %w", header, ErrInvalidRange)
	}

	end := size - 1
	if s := strings.TrimSpace(endStr); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil || end < 0 {
			return nil, fmt.Errorf("end in %q: %w", header, ErrInvalidRange)
		}
	}

	if start > end || start >= size || end >= size {
		return nil, fmt.Errorf("bounds in %q for size %d: %w", header, size, ErrInvalidRange)
	}

	return &ByteRange{Start: start, End: end}, nil
}
