package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"packserve/internal/logger"
	"packserve/internal/ratelimiter"
	"packserve/internal/supervisor"
	"packserve/internal/worker"
	"packserve/pkg/config"
	"packserve/pkg/delivery"
	"packserve/pkg/metrics"
	"packserve/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	printConfig := flag.Bool("print-config", false, "Print the default configuration as YAML and exit")
	workerID := flag.Int("worker", -1, "Internal: run as worker with the given id")
	flag.Parse()

	if *printConfig {
		defaults := &config.Config{}
		config.ApplyDefaults(defaults)
		out, err := yaml.Marshal(defaults)
		if err != nil {
			log.Fatalf("Failed to render default configuration: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	// Context cancelled on the first SIGINT/SIGTERM; both modes shut down
	// through it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received %v, shutting down", sig)
		cancel()
	}()

	if *workerID >= 0 {
		err = runWorker(ctx, cfg, uint32(*workerID))
	} else {
		err = runSupervisor(ctx, cfg, *configPath)
	}

	if err != nil {
		logger.Error("Exit with error: %v", err)
		os.Exit(1)
	}
}

// runSupervisor binds the shared socket and manages the worker pool.
func runSupervisor(ctx context.Context, cfg *config.Config, configPath string) error {
	logger.Info("packserve starting: addr=%s workers=%d storage=%s",
		cfg.Server.ListenAddr, cfg.Workers.Count, cfg.Storage.Type)

	strategy, err := supervisor.NewStrategy(
		cfg.Workers.Restart.Strategy,
		cfg.Workers.Restart.InitialDelay,
		cfg.Workers.Restart.MaxDelay,
	)
	if err != nil {
		return err
	}

	var supMetrics metrics.SupervisorMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		supMetrics = metrics.NewSupervisorMetrics()

		metricsServer := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	var workerArgs []string
	if configPath != "" {
		workerArgs = append(workerArgs, "-config", configPath)
	}

	sup := supervisor.New(supervisor.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		WorkerCount:     cfg.Workers.Count,
		WorkerArgs:      workerArgs,
		Restart:         strategy,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LogInterval:     cfg.Metrics.LogInterval,
		Metrics:         supMetrics,
	})

	return sup.Run(ctx)
}

// runWorker serves HTTP on the listener inherited from the supervisor.
func runWorker(ctx context.Context, cfg *config.Config, id uint32) error {
	listenerFile := os.NewFile(supervisor.ListenerFD, "listener")
	if listenerFile == nil {
		return fmt.Errorf("worker %d: listener descriptor not inherited", id)
	}
	listener, err := net.FileListener(listenerFile)
	if err != nil {
		return fmt.Errorf("worker %d: failed to recover listener: %w", id, err)
	}
	listenerFile.Close()

	telemetrySink := os.NewFile(supervisor.TelemetryFD, "telemetry")
	if telemetrySink == nil {
		return fmt.Errorf("worker %d: telemetry descriptor not inherited", id)
	}
	defer telemetrySink.Close()

	fsys, roots, err := config.CreateStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	resolver, err := delivery.NewResolver(fsys, roots, cfg.Server.DefaultResource)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	plannerCfg, err := cfg.Delivery.PlannerConfig()
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	var httpMetrics metrics.HTTPMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		httpMetrics = metrics.NewHTTPMetrics()

		// Each worker needs its own port; the supervisor holds the base one.
		metricsServer := metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Metrics.Port + 1 + int(id),
		})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Worker %d metrics server error: %v", id, err)
			}
		}()
	}

	var limiter *ratelimiter.RateLimiter
	if cfg.Server.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}

	handler := worker.NewHandler(worker.HandlerConfig{
		WorkerID:    id,
		MountPrefix: cfg.Server.MountPrefix,
		Resolver:    resolver,
		Planner:     delivery.NewPlanner(plannerCfg),
		Pipeline:    delivery.NewPipeline(fsys),
		Counter:     telemetry.NewCounter(id, telemetrySink),
		Limiter:     limiter,
		Metrics:     httpMetrics,
	})

	srv := worker.NewServer(worker.ServerConfig{
		WorkerID:        id,
		MaxConnections:  cfg.Server.MaxConnections,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler)

	return srv.Serve(ctx, listener)
}
