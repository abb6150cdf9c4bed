// Package supervisor runs and babysits the worker processes.
//
// The supervisor owns the listening socket. It binds once, then re-executes
// its own binary for each worker, passing the socket and a telemetry pipe as
// inherited file descriptors. Workers accept from the shared socket
// concurrently; the supervisor aggregates their connection counts and
// restarts them when they crash.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"packserve/internal/logger"
	"packserve/pkg/metrics"
	"packserve/pkg/telemetry"
)

// File descriptor numbers workers inherit from the supervisor. ExtraFiles
// entry i becomes descriptor 3+i in the child.
const (
	// ListenerFD carries the shared TCP listener.
	ListenerFD = 3

	// TelemetryFD carries the write end of the worker's telemetry pipe.
	TelemetryFD = 4
)

// WorkerFlag is the command-line flag that switches the binary into worker
// mode. The supervisor appends it when spawning children.
const WorkerFlag = "-worker"

// Config holds the supervisor settings.
type Config struct {
	// ListenAddr is the address the shared socket binds to, e.g. ":8080".
	ListenAddr string

	// WorkerCount is the number of worker processes to keep running.
	WorkerCount int

	// WorkerArgs are extra arguments passed to every worker, typically the
	// config file flag. The worker flag and id are appended automatically.
	WorkerArgs []string

	// Restart decides the pause before restarting a crashed worker.
	Restart Strategy

	// HealthyUptime is how long a worker must run before its consecutive
	// failure count resets. Zero defaults to one minute.
	HealthyUptime time.Duration

	// ShutdownTimeout bounds how long a worker gets between SIGTERM and
	// SIGKILL during shutdown.
	ShutdownTimeout time.Duration

	// LogInterval is how often the aggregated connection count is logged.
	// Zero disables the periodic log line.
	LogInterval time.Duration

	// Metrics records per-worker gauges and restart counts. Optional.
	Metrics metrics.SupervisorMetrics
}

func (c *Config) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.HealthyUptime == 0 {
		c.HealthyUptime = time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Restart == nil {
		c.Restart = alwaysStrategy{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewSupervisorMetrics()
	}
}

// Supervisor manages the worker pool for one listening socket.
type Supervisor struct {
	config     Config
	aggregator *telemetry.Aggregator
}

// New creates a Supervisor from the given configuration.
func New(config Config) *Supervisor {
	config.applyDefaults()

	s := &Supervisor{config: config}
	s.aggregator = telemetry.NewAggregator(func(workerID, value uint32) {
		s.config.Metrics.SetWorkerConnections(workerID, value)
	})

	return s
}

// Total returns the aggregated connection count across all workers.
func (s *Supervisor) Total() uint32 {
	return s.aggregator.Total()
}

// Run binds the shared socket, spawns the workers and blocks until the
// context is cancelled and every worker has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.config.ListenAddr, err)
	}
	defer listener.Close()

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("unexpected listener type %T", listener)
	}

	// Dup the socket once; every worker inherits the same descriptor.
	listenerFile, err := tcpListener.File()
	if err != nil {
		return fmt.Errorf("failed to dup listener: %w", err)
	}
	defer listenerFile.Close()

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own executable: %w", err)
	}

	logger.Info("Supervisor listening on %s, starting %d worker(s)",
		listener.Addr(), s.config.WorkerCount)

	if s.config.LogInterval > 0 {
		go s.aggregator.Run(ctx, s.config.LogInterval)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, s.config.WorkerCount)

	for id := 0; id < s.config.WorkerCount; id++ {
		wg.Add(1)
		go func(workerID uint32) {
			defer wg.Done()
			if err := s.superviseWorker(ctx, workerID, executable, listenerFile); err != nil {
				errChan <- fmt.Errorf("worker %d: %w", workerID, err)
			}
		}(uint32(id))
	}

	wg.Wait()
	close(errChan)

	var result *multierror.Error
	for err := range errChan {
		result = multierror.Append(result, err)
	}

	logger.Info("Supervisor stopped")
	return result.ErrorOrNil()
}

// superviseWorker keeps one worker slot occupied until the context is
// cancelled, restarting the process per the configured strategy.
func (s *Supervisor) superviseWorker(ctx context.Context, workerID uint32, executable string, listenerFile *os.File) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		err := s.runWorker(ctx, workerID, executable, listenerFile)
		uptime := time.Since(started)

		if ctx.Err() != nil {
			if err != nil {
				logger.Debug("Worker %d exit during shutdown: %v", workerID, err)
			}
			return nil
		}

		// Spawn failures are not worker crashes: if the pipe or exec setup
		// breaks there is nothing a restart will fix.
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}

		if uptime >= s.config.HealthyUptime {
			failures = 0
		}
		failures++

		delay := s.config.Restart.Delay(failures)
		logger.Warn("Worker %d exited after %v (%v), restarting in %v (failure %d)",
			workerID, uptime.Round(time.Millisecond), exitReason(err), delay, failures)
		s.config.Metrics.RecordWorkerRestart(workerID)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runWorker spawns a single worker process and blocks until it exits.
func (s *Supervisor) runWorker(ctx context.Context, workerID uint32, executable string, listenerFile *os.File) error {
	// One pipe per worker generation. The write end travels to the child;
	// closing our copy means the read end sees EOF when the child dies.
	pipeRead, pipeWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create telemetry pipe: %w", err)
	}
	defer pipeRead.Close()

	args := append([]string{}, s.config.WorkerArgs...)
	args = append(args, WorkerFlag, strconv.FormatUint(uint64(workerID), 10))

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{listenerFile, pipeWrite}

	// On shutdown ask the worker to drain gracefully first; SIGKILL only
	// lands after WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.config.ShutdownTimeout

	if err := cmd.Start(); err != nil {
		pipeWrite.Close()
		return fmt.Errorf("failed to start worker: %w", err)
	}
	pipeWrite.Close()

	logger.Info("Worker %d started (pid %d)", workerID, cmd.Process.Pid)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.aggregator.Watch(ctx, workerID, pipeRead)
	}()

	err = cmd.Wait()
	<-watchDone

	// A dead worker holds no connections.
	s.aggregator.Forget(workerID)
	s.config.Metrics.SetWorkerConnections(workerID, 0)

	return err
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}
