// Package main implements the entry point for the georelay application.
// Georelay bridges websocket clients to a channel backend: text commands in,
// filtered JSON frames out, with optional geographic filtering.
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

	"github.com/c360/georelay/backend"
	"github.com/c360/georelay/config"
	"github.com/c360/georelay/geo"
	"github.com/c360/georelay/metric"
	"github.com/c360/georelay/natsclient"
	"github.com/c360/georelay/protocol"
	"github.com/c360/georelay/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "georelay"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	// Connect the backend
	natsClient, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	// Metrics registry and endpoint
	registry := metric.NewRegistry()
	metricsServer := startMetricsServer(cfg, registry)
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}
	registry.CoreMetrics().RecordNATSStatus(natsClient.IsHealthy())

	// Build the relay
	relay, err := buildServer(cfg, natsClient, registry.CoreMetrics(), logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// Run until signalled
	return runWithSignalHandling(ctx, relay, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting georelay",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// connectNATS creates the NATS client and establishes the connection
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.NATS.Name))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()))
	}
	if cfg.NATS.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.NATS.Timeout.Std()))
	}
	if cfg.NATS.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return natsClient, nil
}

// startMetricsServer starts the Prometheus endpoint when enabled
func startMetricsServer(cfg *config.Config, registry *metric.Registry) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server started", "address", metricsServer.Address())
	return metricsServer
}

// buildServer assembles the relay from its configured parts
func buildServer(cfg *config.Config, natsClient *natsclient.Client,
	metrics *metric.Metrics, logger *slog.Logger) (*server.Server, error) {

	store := backend.NewNATS(natsClient, logger.With("component", "backend"))
	store.OnDropped(metrics.RecordBusDropped)

	var extensions []protocol.Extension
	if cfg.Geo.Enabled {
		extensions = append(extensions, geo.NewExtension(cfg.Geo.DefaultReference))
	}

	serverCfg := server.DefaultConstructorConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.Path = cfg.Server.Path
	serverCfg.Store = store
	serverCfg.Bus = store
	serverCfg.ChannelNames = cfg.Channels.Names
	serverCfg.ChannelPatterns = cfg.Channels.Patterns
	serverCfg.AllowedChannels = cfg.Channels.Allowed
	serverCfg.Commands = cfg.Session.Commands
	serverCfg.Extensions = extensions
	serverCfg.QueueSize = cfg.Session.QueueSize
	serverCfg.MaxSessionLifetime = cfg.Session.MaxLifetime.Std()
	serverCfg.Metrics = metrics
	serverCfg.Logger = logger

	return server.New(serverCfg)
}

// runWithSignalHandling starts the relay and handles shutdown signals
func runWithSignalHandling(ctx context.Context, relay *server.Server, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := relay.Start(signalCtx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	slog.Info("Georelay started successfully")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := relay.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Georelay shutdown complete")
	return nil
}
