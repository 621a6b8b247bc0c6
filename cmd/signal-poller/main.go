// Package main is the entry point for the ngetem signal poller. It runs the
// background refresher that re-warms POI and weather cache entries shortly
// before they expire, so the API rarely pays upstream latency on the request
// path.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"ngetem/internal/config"
	"ngetem/internal/db"
	"ngetem/internal/scheduler"
	"ngetem/internal/signals"
	"ngetem/internal/telemetry"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("ngetem signal poller starting",
		"environment", cfg.Environment,
		"interval", cfg.Poller.Interval,
		"horizon", cfg.Poller.RefreshHorizon,
	)

	connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	pool, err := db.NewPool(connectCtx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	signalRepo, err := db.NewSignalRepository(pool)
	if err != nil {
		return fmt.Errorf("initializing signal repository: %w", err)
	}

	var metrics scheduler.RefreshMetrics = telemetry.NoopMetrics{}
	var cacheMetrics signals.CacheMetrics = telemetry.NoopMetrics{}
	if cfg.Telemetry.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Telemetry.AWSRegion),
		)
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		cw := telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Telemetry.Namespace, logger)
		metrics = cw
		cacheMetrics = cw
	}

	httpClient := &http.Client{Timeout: cfg.Signals.FetchTimeout}
	signalClient := signals.NewClient(httpClient, "signal-poller", signals.DefaultRetryPolicy(), cfg.Signals.UserAgent)
	cache := signals.NewCache(signals.CacheConfig{
		Store:   signalRepo,
		Logger:  logger,
		Metrics: cacheMetrics,
	})

	refresher := scheduler.NewRefresher(scheduler.RefresherConfig{
		Store:    signalRepo,
		POI:      signals.NewCachedPOIProvider(cache, signals.NewPOIClient(signalClient, cfg.Signals.POIEndpoint)),
		Weather:  signals.NewCachedWeatherProvider(cache, signals.NewWeatherClient(signalClient, cfg.Signals.WeatherEndpoint)),
		Metrics:  metrics,
		Logger:   logger,
		Interval: cfg.Poller.Interval,
		Horizon:  cfg.Poller.RefreshHorizon,
		Limit:    cfg.Poller.BatchLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = refresher.Run(ctx)
	logger.Info("signal poller stopped")
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
