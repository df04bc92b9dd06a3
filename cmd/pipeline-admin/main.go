package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nicofx/widu-factory/internal/admin"
	"github.com/nicofx/widu-factory/internal/pkg/config"
	"github.com/nicofx/widu-factory/internal/runtime"
	"github.com/nicofx/widu-factory/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Tracing {
		tracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := runtime.New(append([]runtime.Option{runtime.WithLogger(logger)}, runtime.FromConfig(cfg, reg)...)...)
	if err != nil {
		log.Fatalf("Failed to create runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("Failed to start runtime: %v", err)
	}

	if cfg.Audit.SQLitePath == "" {
		logger.Warn("audit.sqlite_path is empty: request records live in this process only and /requests/{id} will not see runs from pipeline-run")
	}

	srv := admin.New(cfg.Admin.Addr, rt, logger,
		admin.WithGatherer(reg),
		admin.WithTimeout(cfg.Admin.Timeout),
		admin.WithTenantHeader(cfg.Pipelines.TenantHeader))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("Admin server started",
		slog.String("addr", cfg.Admin.Addr),
		slog.String("pipelines", cfg.Pipelines.Dir))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping...")
	case err := <-errCh:
		if err != nil {
			logger.Error("admin server failed", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown error", slog.String("error", err.Error()))
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete")
}
