package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"job-tracker-go/internal/app"
	"job-tracker-go/internal/config"
	"job-tracker-go/internal/logging"
	"job-tracker-go/internal/scheduler"
)

func main() {
	configFile := flag.String("config", "config.json", "Configuration file path")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if env := a.Client.Ping(ctx); !env.OK() {
		logger.Warn("Backend not reachable yet", zap.String("error", env.Error))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(a.Session, scheduler.Every(cfg.Scheduler.ReconcileInterval.Duration), logger,
			func() { logSummary(a, logger) })
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	} else {
		logSummary(a, logger)
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	cancel()
	if sched != nil {
		sched.Stop()
	}

	logger.Info("Job tracker shutdown complete")
}

// logSummary logs the session state and per-endpoint client metrics.
func logSummary(a *app.App, logger *zap.Logger) {
	snap := a.Session.Snapshot()
	logger.Info("Session summary",
		zap.String("state", a.Session.State().String()),
		zap.String("keyword", snap.Query.Keyword),
		zap.Int("page", snap.Result.CurrentPage),
		zap.Int("pages", snap.Result.Pages),
		zap.Int("total", snap.Result.Total),
		zap.Int("overrides", len(snap.StatusOverrides)),
		zap.Int("applications", len(a.Session.Applications())))

	for endpoint, m := range a.Client.Metrics() {
		logger.Info("Endpoint metrics",
			zap.String("endpoint", endpoint),
			zap.Int64("calls", m.Calls),
			zap.Int64("attempts", m.Attempts),
			zap.Int64("retries", m.Retries),
			zap.Int64("failures", m.Failures),
			zap.Int64("malformed", m.Malformed),
			zap.Duration("last_latency", m.LastLatency),
			zap.Time("last_called", m.LastCalled))
	}
}
