package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Vicinious/udp-webrtc-player/internal/admission"
	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/config"
	"github.com/Vicinious/udp-webrtc-player/internal/ingest"
	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
	"github.com/Vicinious/udp-webrtc-player/internal/relay"
	"github.com/Vicinious/udp-webrtc-player/internal/server"
	"github.com/Vicinious/udp-webrtc-player/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "udp-webrtc-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.Server.Port),
		slog.Int("udp_port", cfg.Ingest.UDPPort),
		slog.String("bind_address", cfg.Ingest.BindAddress),
		slog.Int("buffer_ceiling", cfg.Buffer.CeilingBytes),
		slog.Int("max_window_chunks", cfg.Buffer.MaxWindowChunks),
		slog.Int("conn_cap", cfg.Admission.ConnCap),
		slog.Bool("nats_enabled", cfg.Ingest.NATS.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Core state: the bounded packet buffer and the throughput meter shared
	// by the ingestion paths and the control plane.
	buf := buffer.New(cfg.Buffer.CeilingBytes, cfg.Buffer.MaxWindowChunks)
	throughput := ingest.NewThroughput()

	// The hub is the delivery surface for every registry and relay side
	// effect, so it is created first and wired below.
	hub := server.NewHub(logger, appMetrics)
	registry := session.NewRegistry(logger, hub)
	signalRelay := relay.New(logger, hub)

	// Admission control: a per-address request gate and connection cap at
	// the HTTP edge, per-connection event-class gates on the control plane.
	requestGate := admission.NewGate(cfg.Admission.Request.GetInterval(), cfg.Admission.Request.Limit)
	connCap := admission.NewConnCap(cfg.Admission.ConnCap)
	eventGate := admission.NewEventGate(map[string]admission.ClassLimit{
		server.ClassRole:   {Interval: cfg.Admission.Role.GetInterval(), Limit: cfg.Admission.Role.Limit},
		server.ClassSignal: {Interval: cfg.Admission.Signal.GetInterval(), Limit: cfg.Admission.Signal.Limit},
		server.ClassData:   {Interval: cfg.Admission.Data.GetInterval(), Limit: cfg.Admission.Data.Limit},
	})

	dispatcher := server.NewDispatcher(logger, appMetrics, buf, throughput, registry, signalRelay, eventGate, hub)

	hub.SetHandlers(dispatcher.Dispatch, func(connID, addr string) {
		dispatcher.ConnectionClosed(connID)
		connCap.Release(addr)
	})

	udpListener := ingest.NewUDPListener(&cfg.Ingest, logger, buf, throughput, hub, appMetrics)
	logger.Info("UDP listener initialized")

	var natsSub *ingest.NATSSubscriber
	if cfg.Ingest.NATS.Enabled {
		natsSub, err = ingest.NewNATSSubscriber(&cfg.Ingest.NATS, logger, buf, throughput, hub, appMetrics)
		if err != nil {
			logger.Error("Failed to connect NATS ingestion", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	httpServer := server.NewHTTPServer(cfg, logger, hub, dispatcher, buf, throughput, registry,
		requestGate, connCap, appMetrics)
	logger.Info("HTTP server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	if err := udpListener.Start(); err != nil {
		logger.Error("Failed to start UDP listener", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if natsSub != nil {
		if err := natsSub.Start(); err != nil {
			logger.Error("Failed to start NATS ingestion", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Periodically sweep elapsed rate windows so the gate tables stay small.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				requestGate.Sweep()
				eventGate.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Ingest.BindAddress, cfg.Ingest.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop the HTTP server first so no new connections arrive, then the
	// ingestion paths, then flush state.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if natsSub != nil {
		natsSub.Close()
	}

	if err := udpListener.Stop(); err != nil {
		logger.Error("Error stopping UDP listener", slog.String("error", err.Error()))
	}

	stats := udpListener.GetStatistics()
	logger.Info("Final listener statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("bytes_received", stats.BytesReceived),
		slog.Uint64("receive_errors", stats.ReceiveErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
