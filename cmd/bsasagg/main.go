// Package main implements the bsasagg entry point: it loads configuration,
// wires a NATS transport adapter to the Controller, and serves /healthz and
// /metrics until asked to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/bsasagg/config"
	"github.com/c360/bsasagg/controller"
	"github.com/c360/bsasagg/health"
	"github.com/c360/bsasagg/metric"
	"github.com/c360/bsasagg/transport"
	"github.com/c360/bsasagg/transport/demopublisher"
	"github.com/c360/bsasagg/transport/natsio"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "bsasagg"

	// aggregateChannel is the NATS subject suffix (bsas.agg.<name>) every
	// aggregate record publishes under.
	aggregateChannel = "bsasagg"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	signalCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cliCfg.Demo {
		return runDemo(signalCtx, cfg)
	}

	return runAggregator(signalCtx, cfg, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting bsasagg", "version", Version, "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

// loadConfig loads and validates configuration, applying any CLI overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader(cliCfg.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.HealthPort >= 0 {
		cfg.HealthPort = cliCfg.HealthPort
	}
	if cliCfg.MetricsPort >= 0 {
		cfg.MetricsPort = cliCfg.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// runAggregator wires the NATS transport adapter to the Controller and
// serves /healthz and /metrics until signalCtx is canceled.
func runAggregator(signalCtx context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	monitor := health.NewMonitor()
	metricsRegistry := metric.NewMetricsRegistry()

	conn, err := natsio.Dial(signalCtx, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer conn.Close(context.Background())

	conn.OnHealthChange(func(up bool) {
		if up {
			monitor.UpdateHealthy("nats", "connected")
		} else {
			monitor.UpdateUnhealthy("nats", "disconnected")
		}
	})
	monitor.UpdateHealthy("nats", "connected")

	safeCfg := config.NewSafeConfig(cfg)
	ctl := controller.New(safeCfg,
		func(name string) (transport.SourceFeed, error) {
			return natsio.NewFeed(conn, name), nil
		},
		func() (transport.Publisher, error) {
			return natsio.NewPublisher(conn, aggregateChannel), nil
		},
		slog.Default(),
	).WithMetrics(metricsRegistry)

	for _, src := range cfg.Sources {
		ctl.AddSource(src.Name)
	}

	if err := ctl.Start(signalCtx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	monitor.UpdateHealthy("controller", "pipeline running")
	defer ctl.Close()

	stopMetrics := startMetricsServer(cfg.MetricsPort, metricsRegistry)
	defer stopMetrics()

	stopHealth := startHealthServer(cfg.HealthPort, monitor)
	defer stopHealth()

	slog.Info("bsasagg running", "sources", len(cfg.Sources), "workers", cfg.WorkerCount)

	<-signalCtx.Done()
	slog.Info("received shutdown signal", "timeout", shutdownTimeout)

	return nil
}

// runDemo drives every configured source with a synthetic sample generator
// instead of starting the Controller, for manual pipeline testing: never
// part of the production aggregator path.
func runDemo(ctx context.Context, cfg *config.Config) error {
	conn, err := natsio.Dial(ctx, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer conn.Close(context.Background())

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("demo mode requires at least one configured source")
	}

	slog.Info("starting demo publisher", "sources", len(cfg.Sources))
	done := make(chan struct{})
	for _, src := range cfg.Sources {
		period := time.Second
		if src.MaxRateHz > 0 {
			period = time.Duration(float64(time.Second) / src.MaxRateHz)
		}
		gen := demopublisher.New(natsio.NewEmitter(conn, src.Name), period)
		go func() {
			gen.Run(ctx)
			done <- struct{}{}
		}()
	}

	for range cfg.Sources {
		<-done
	}
	return nil
}

// startMetricsServer starts the Prometheus endpoint in a background
// goroutine (metric.Server.Start blocks) and returns a function that stops
// it. A zero port disables the endpoint.
func startMetricsServer(port int, registry *metric.MetricsRegistry) func() {
	if port == 0 {
		return func() {}
	}
	srv := metric.NewServer(port, "/metrics", registry)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return func() { _ = srv.Stop() }
}

// startHealthServer serves /healthz from monitor's aggregate status. The
// health package ships no HTTP server of its own, so this follows its
// documented manual-handler pattern. A zero port disables the endpoint.
func startHealthServer(port int, monitor *health.Monitor) func() {
	if port == 0 {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := monitor.AggregateHealth(appName)

		statusCode := http.StatusOK
		if status.IsUnhealthy() {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = fmt.Fprintf(w, `{"healthy":%t,"status":%q,"message":%q}`, status.IsHealthy(), status.Status, status.Message)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// printHelp prints help information.
func printHelp() {
	printDetailedHelp()
}
