package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"packserve/internal/logger"
)

// ServerConfig holds the HTTP server settings for a single worker.
type ServerConfig struct {
	// WorkerID identifies this worker in logs.
	WorkerID uint32

	// MaxConnections caps simultaneous TCP connections. 0 means unlimited.
	MaxConnections int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// transfers before dropping them.
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server runs one worker's HTTP server on a listener it does not own.
//
// Multiple workers serve the same listener concurrently; the kernel spreads
// accepted connections across them. The listener is typically inherited from
// the supervisor process.
type Server struct {
	config  ServerConfig
	handler http.Handler
	http    *http.Server
}

// NewServer creates a worker HTTP server around the given handler.
func NewServer(config ServerConfig, handler http.Handler) *Server {
	config.applyDefaults()

	return &Server{
		config:  config,
		handler: handler,
	}
}

// Serve accepts connections on ln until the context is cancelled, then shuts
// down gracefully. It blocks for the lifetime of the server.
//
// Graceful shutdown waits up to ShutdownTimeout for in-flight transfers to
// complete; connections still open after that are closed forcibly.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.MaxConnections > 0 {
		ln = limitListener(ln, s.config.MaxConnections)
		logger.Debug("Worker %d connection limit: %d", s.config.WorkerID, s.config.MaxConnections)
	}

	s.http = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	logger.Info("Worker %d serving on %s", s.config.WorkerID, ln.Addr())

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Info("Worker %d shutdown signal received: %v", s.config.WorkerID, ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Worker %d shutdown timeout exceeded, closing connections: %v",
				s.config.WorkerID, err)
			shutdownErr <- s.http.Close()
			return
		}
		shutdownErr <- nil
	}()

	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker %d serve: %w", s.config.WorkerID, err)
	}

	err := <-shutdownErr
	logger.Info("Worker %d stopped", s.config.WorkerID)
	return err
}
