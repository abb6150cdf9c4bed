package worker

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"packserve/internal/ratelimiter"
	"packserve/pkg/delivery"
	"packserve/pkg/telemetry"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/srv/packages/dlc", 0o755))
	require.NoError(t, fsys.MkdirAll("/srv/packages/js", 0o755))

	index := bytes.Repeat([]byte{0x50, 0x4b}, 1000)
	require.NoError(t, afero.WriteFile(fsys, "/srv/packages/dlc/DLCIndex.zip", index, 0o644))

	script := bytes.Repeat([]byte("var x = 1;\n"), 455)[:5000]
	require.NoError(t, afero.WriteFile(fsys, "/srv/packages/js/app.js", script, 0o644))

	archive := bytes.Repeat([]byte{0xab}, 500)
	require.NoError(t, afero.WriteFile(fsys, "/srv/packages/dlc/pack01.zip", archive, 0o644))

	resolver, err := delivery.NewResolver(fsys, []string{"/srv/packages"}, "dlc/DLCIndex.zip")
	require.NoError(t, err)

	planner := delivery.NewPlanner(delivery.PlannerConfig{
		ChunkSize:       64 * 1024,
		LargeFileSize:   10 * 1024 * 1024,
		CompressMinSize: 1024,
		CompressMaxSize: 10 * 1024 * 1024,
		CacheMaxAge:     3600,
	})

	return NewHandler(HandlerConfig{
		WorkerID:    1,
		MountPrefix: "/static",
		Resolver:    resolver,
		Planner:     planner,
		Pipeline:    delivery.NewPipeline(fsys),
		Counter:     telemetry.NewCounter(1, io.Discard),
	})
}

func doRequest(h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_DefaultResource(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Equal(t, "2000", rec.Header().Get("Content-Length"))
	require.Len(t, rec.Body.Bytes(), 2000)
}

func TestHandler_CompressibleFile(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/js/app.js", map[string]string{
		"Accept-Encoding": "gzip, deflate",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	require.Empty(t, rec.Header().Get("Content-Length"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Len(t, body, 5000)
}

func TestHandler_ArchiveNeverCompressed(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc/DLCIndex.zip", map[string]string{
		"Accept-Encoding": "gzip",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Content-Encoding"))
	require.Equal(t, "2000", rec.Header().Get("Content-Length"))
}

func TestHandler_RangeRequest(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", map[string]string{
		"Range": "bytes=100-199",
	})

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "100", rec.Header().Get("Content-Length"))
	require.Equal(t, "bytes 100-199/500", rec.Header().Get("Content-Range"))
	require.Len(t, rec.Body.Bytes(), 100)
}

func TestHandler_InvalidRange(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", map[string]string{
		"Range": "bytes=400-600",
	})

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	require.Equal(t, "bytes */500", rec.Header().Get("Content-Range"))
	require.Empty(t, rec.Body.Bytes())
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc/missing.zip", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_DirectoryNotServed(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_TraversalForbidden(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/../etc/passwd", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_OutsideMountPrefix(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/other/file.zip", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// A prefix match must end on a path boundary.
	rec = doRequest(h, http.MethodGet, "/staticfoo/file.zip", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Head(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodHead, "/static/dlc/pack01.zip", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "500", rec.Header().Get("Content-Length"))
	require.Empty(t, rec.Body.Bytes())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodPost, "/static/dlc/pack01.zip", nil)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestHandler_Status(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status.Status)
	require.Equal(t, uint32(1), status.Worker)

	// The status request itself is in flight while the value is read.
	require.Equal(t, int32(1), status.ActiveConnections)
}

func TestHandler_RateLimit(t *testing.T) {
	h := newTestHandler(t)
	h.limiter = ratelimiter.New(1, 1)

	first := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", nil)
	require.Equal(t, http.StatusServiceUnavailable, second.Code)
}

func TestHandler_PanicRecovery(t *testing.T) {
	h := newTestHandler(t)
	h.resolver = nil // forces a panic in the delivery path

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_CountsPublishedDuringTransfer(t *testing.T) {
	var sink bytes.Buffer
	h := newTestHandler(t)
	h.counter = telemetry.NewCounter(3, &sink)

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// One frame for the increment and one for the decrement.
	first, err := telemetry.ReadFrame(&sink)
	require.NoError(t, err)
	require.Equal(t, uint32(3), first.WorkerID)
	require.Equal(t, uint32(1), first.Value)

	second, err := telemetry.ReadFrame(&sink)
	require.NoError(t, err)
	require.Equal(t, uint32(0), second.Value)

	_, err = telemetry.ReadFrame(&sink)
	require.ErrorIs(t, err, io.EOF)
}

func TestHandler_OpenFailureAnswers500(t *testing.T) {
	// The file exists when the resolver stats it but is gone by the time the
	// pipeline opens it: resolver and pipeline see different filesystems to
	// imitate a file deleted between the two steps.
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/srv/packages/dlc/pack01.zip",
		bytes.Repeat([]byte{0xab}, 500), 0o644))

	resolver, err := delivery.NewResolver(fsys, []string{"/srv/packages"}, "dlc/DLCIndex.zip")
	require.NoError(t, err)

	h := NewHandler(HandlerConfig{
		WorkerID:    1,
		MountPrefix: "/static",
		Resolver:    resolver,
		Planner: delivery.NewPlanner(delivery.PlannerConfig{
			ChunkSize: 64 * 1024, LargeFileSize: 10 * 1024 * 1024,
			CompressMinSize: 1024, CompressMaxSize: 10 * 1024 * 1024, CacheMaxAge: 3600,
		}),
		Pipeline: delivery.NewPipeline(afero.NewMemMapFs()),
	})

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", nil)

	// Nothing was written before the open, so the client gets a clean 500,
	// not an empty 200.
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Header().Get("Accept-Ranges"))
}

func TestHandler_NonDeliveryRequestsAreCounted(t *testing.T) {
	var sink bytes.Buffer
	h := newTestHandler(t)
	h.counter = telemetry.NewCounter(2, &sink)

	// Requests that never reach the delivery path still pass through the
	// connection counter.
	rec := doRequest(h, http.MethodGet, "/other/file.zip", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	first, err := telemetry.ReadFrame(&sink)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Value)

	second, err := telemetry.ReadFrame(&sink)
	require.NoError(t, err)
	require.Equal(t, uint32(0), second.Value)
}

func TestHandler_TrailingPrefixVariants(t *testing.T) {
	h := newTestHandler(t)

	for _, target := range []string{"/static", "/static/", "/static//dlc//pack01.zip"} {
		rec := doRequest(h, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, "target %q", target)
	}
}

func TestHandler_RangeIgnoresEncoding(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/js/app.js", map[string]string{
		"Range":           "bytes=0-99",
		"Accept-Encoding": "gzip",
	})

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Empty(t, rec.Header().Get("Content-Encoding"))
	require.Equal(t, "100", rec.Header().Get("Content-Length"))
}

func TestHandler_SuffixRangeRejected(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(h, http.MethodGet, "/static/dlc/pack01.zip", map[string]string{
		"Range": "bytes=-100",
	})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}
