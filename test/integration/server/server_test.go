//go:build integration

package server_test

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"packserve/internal/worker"
	"packserve/pkg/config"
	"packserve/pkg/delivery"
	"packserve/pkg/telemetry"
)

// TestServer_Integration exercises the full delivery stack against real files
// on disk: config-driven storage, path resolution, range requests and gzip.
//
// Run with: go test -tags=integration ./test/integration/server/...
func TestServer_Integration(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "dlc"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fallback", "extra"), 0o755))

	archive := make([]byte, 100_000)
	for i := range archive {
		archive[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "dlc", "pack01.zip"), archive, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dlc", "DLCIndex.zip"), archive[:2048], 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "fallback", "extra", "notes.txt"),
		[]byte(fmt.Sprintf("%08192d", 42)), 0o644))

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "filesystem",
			Filesystem: map[string]any{
				"root":            root,
				"fallback_subdir": "fallback",
			},
		},
	}

	fsys, roots, err := config.CreateStorage(&cfg.Storage)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	resolver, err := delivery.NewResolver(fsys, roots, "dlc/DLCIndex.zip")
	require.NoError(t, err)

	planner := delivery.NewPlanner(delivery.PlannerConfig{
		ChunkSize:       8 * 1024,
		LargeFileSize:   64 * 1024, // pack01.zip crosses this
		CompressMinSize: 1024,
		CompressMaxSize: 1024 * 1024,
		CacheMaxAge:     60,
	})

	handler := worker.NewHandler(worker.HandlerConfig{
		WorkerID:    0,
		MountPrefix: "/static",
		Resolver:    resolver,
		Planner:     planner,
		Pipeline:    delivery.NewPipeline(fsys),
		Counter:     telemetry.NewCounter(0, io.Discard),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := worker.NewServer(worker.ServerConfig{ShutdownTimeout: 2 * time.Second}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	base := fmt.Sprintf("http://%s", ln.Addr())
	waitReady(t, base+"/status")

	t.Run("FullDownload", func(t *testing.T) {
		resp, err := http.Get(base + "/static/dlc/pack01.zip")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, archive, body)
	})

	t.Run("DefaultResource", func(t *testing.T) {
		resp, err := http.Get(base + "/static/")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Len(t, body, 2048)
	})

	t.Run("RangeResume", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/static/dlc/pack01.zip", nil)
		require.NoError(t, err)
		req.Header.Set("Range", "bytes=50000-99999")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusPartialContent, resp.StatusCode)
		require.Equal(t, "bytes 50000-99999/100000", resp.Header.Get("Content-Range"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, archive[50000:], body)
	})

	t.Run("FallbackRoot", func(t *testing.T) {
		resp, err := http.Get(base + "/static/extra/notes.txt")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Len(t, body, 8192)
	})

	t.Run("GzipText", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/static/extra/notes.txt", nil)
		require.NoError(t, err)
		req.Header.Set("Accept-Encoding", "gzip")

		// Disable the transport's transparent decompression so the wire
		// encoding is observable.
		transport := &http.Transport{DisableCompression: true}
		resp, err := (&http.Client{Transport: transport}).Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

		gz, err := gzip.NewReader(resp.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(gz)
		require.NoError(t, err)
		require.Len(t, body, 8192)
	})

	t.Run("TraversalBlocked", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/static/x", nil)
		require.NoError(t, err)
		req.URL.Path = "/static/../dlc/pack01.zip"
		req.URL.RawPath = ""

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	cancel()
	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
}
