package delivery

import (
	"errors"
	"net/http"
)

// Standard delivery errors.
//
// These errors form the taxonomy that the HTTP layer maps to status codes.
// Filesystem and parsing failures are classified into these sentinels before
// they leave this package; handlers never see raw I/O error codes.
//
// Usage pattern:
//
//	file, err := resolver.Resolve(path)
//	if err != nil {
//	    http.Error(w, http.StatusText(delivery.HTTPStatus(err)), delivery.HTTPStatus(err))
//	    return
//	}
var (
	// ErrNotFound indicates no regular file exists at any candidate path.
	// Directories, devices and dangling symlinks also map here: they are
	// never served.
	ErrNotFound = errors.New("file not found")

	// ErrForbidden indicates the resolved path escapes every configured
	// sandbox root. Returned regardless of whether a file exists at the
	// escaping path.
	ErrForbidden = errors.New("path outside sandbox")

	// ErrInvalidRange indicates an unparsable, inverted or out-of-bounds
	// Range header. Callers must respond 416 with a "bytes */<size>"
	// Content-Range and transfer no body.
	ErrInvalidRange = errors.New("invalid byte range")

	// ErrTransfer indicates an I/O failure before any response byte was
	// written. The caller may still send a 500.
	ErrTransfer = errors.New("transfer failed")

	// ErrAborted indicates an I/O failure after response bytes were written.
	// Headers are already on the wire; the only remedy is closing the
	// connection and logging.
	ErrAborted = errors.New("transfer aborted mid-stream")
)

// HTTPStatus maps a delivery error to its HTTP status code. Unknown errors
// map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}
