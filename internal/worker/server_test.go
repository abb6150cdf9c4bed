package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	})

	srv := NewServer(ServerConfig{WorkerID: 1, ShutdownTimeout: 2 * time.Second}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, ln)
	}()

	url := fmt.Sprintf("http://%s/", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && string(body) == "hello"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_SharedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Two servers accepting from the same listener, like two worker
	// processes sharing an inherited socket.
	var hits [2]atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		i := i
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i].Add(1)
			w.WriteHeader(http.StatusOK)
		})
		srv := NewServer(ServerConfig{WorkerID: uint32(i), ShutdownTimeout: time.Second}, handler)
		go func() { _ = srv.Serve(ctx, ln) }()
	}

	url := fmt.Sprintf("http://%s/", ln.Addr())
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	total := func() int32 { return hits[0].Load() + hits[1].Load() }
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return total() >= 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLimitListener_CapsConcurrentConnections(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := limitListener(inner, 2)
	defer ln.Close()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				cur := active.Add(1)
				for {
					prev := peak.Load()
					if cur <= prev || peak.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				active.Add(-1)
				conn.Close()
			}()
		}
	}()

	var dialers sync.WaitGroup
	for n := 0; n < 6; n++ {
		dialers.Add(1)
		go func() {
			defer dialers.Done()
			conn, err := net.Dial("tcp", inner.Addr().String())
			if err != nil {
				return
			}
			buf := make([]byte, 1)
			_, _ = conn.Read(buf) // block until server closes
			conn.Close()
		}()
	}
	dialers.Wait()
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(2))
}
