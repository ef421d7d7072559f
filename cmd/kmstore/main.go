// Command kmstore serves the kilometrage API over a remote file backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/froz-husain/kmstore/internal/bootstrap"
	"github.com/froz-husain/kmstore/internal/config"
	"github.com/froz-husain/kmstore/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kmstore: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("kmstore stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting kmstore",
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Remote.Backend),
		zap.String("base_dir", cfg.Remote.BaseDir),
		zap.String("idempotency", cfg.Idempotency.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Registerer: prometheus.DefaultRegisterer}, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, app.Metrics, logger)
		if err := metricsSrv.Start(); err != nil {
			return err
		}
	}

	var grpcHealth *server.GRPCHealthServer
	if cfg.Health.GRPCPort > 0 {
		grpcHealth = server.NewGRPCHealthServer(cfg.Health.GRPCPort, logger)
		app.Health.OnReadinessChange(grpcHealth.SetServing)
		go func() {
			if err := grpcHealth.Serve(); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
	}

	go app.Health.Start(ctx)

	api := server.NewServer(cfg, app.Service, app.Health, app.Metrics, logger)
	api.SetupRoutes()

	serveErr := make(chan error, 1)
	go func() { serveErr <- api.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	// In-flight requests still finish their queued writes.
	app.Health.SetReadiness(false)
	logger.Info("Draining", zap.Int("pending_writes", app.Service.PendingWrites()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP drain incomplete", zap.Error(err))
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Error("Metrics drain incomplete", zap.Error(err))
		}
	}

	logger.Info("kmstore stopped", zap.Int("pending_writes", app.Service.PendingWrites()))
	return nil
}

// newLogger builds the process logger; format "console" is for local runs.
func newLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
