// Package main is the entry point for the ngetem API server.
//
// It loads configuration, connects to PostgreSQL, wires the signal cache and
// recommendation engine, builds the HTTP server with the core chassis
// (middleware, routing, health checks), and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"ngetem/internal/api/handlers"
	"ngetem/internal/config"
	"ngetem/internal/core"
	"ngetem/internal/db"
	"ngetem/internal/engine"
	"ngetem/internal/signals"
	"ngetem/internal/telemetry"
	"ngetem/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("ngetem API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	metrics, err := newMetrics(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	// Repositories.
	tripRepo := db.NewTripRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)
	eventRepo := db.NewEventRepository(pool)
	signalRepo, err := db.NewSignalRepository(pool)
	if err != nil {
		pool.Close()
		return fmt.Errorf("initializing signal repository: %w", err)
	}

	// Signal layer: resilient HTTP client, read-through cache, providers.
	httpClient := &http.Client{Timeout: cfg.Signals.FetchTimeout}
	signalClient := signals.NewClient(httpClient, "signals", signals.DefaultRetryPolicy(), cfg.Signals.UserAgent)
	cache := signals.NewCache(signals.CacheConfig{
		Store:   signalRepo,
		Logger:  logger,
		Metrics: metrics,
	})
	poiProvider := signals.NewCachedPOIProvider(cache, signals.NewPOIClient(signalClient, cfg.Signals.POIEndpoint))
	weatherProvider := signals.NewCachedWeatherProvider(cache, signals.NewWeatherClient(signalClient, cfg.Signals.WeatherEndpoint))

	// Engine.
	recommender := engine.NewRecommender(rand.New(rand.NewSource(time.Now().UnixNano())), logger)
	service := engine.NewService(engine.ServiceConfig{
		Trips:       tripRepo,
		Settings:    settingsRepo,
		Events:      eventRepo,
		POI:         poiProvider,
		Weather:     weatherProvider,
		Recommender: recommender,
		Metrics:     metrics,
		Logger:      logger,
		Clock:       types.RealClock{},
	})

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = metrics
	srv.HealthProbes = []core.HealthProbe{dbProbe{pool: pool}}
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	recHandler := handlers.NewRecommendationHandler(service, srv.Validator, logger)
	tripHandler := handlers.NewTripHandler(tripRepo, srv.Validator, logger)
	settingsHandler := handlers.NewSettingsHandler(settingsRepo, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		recHandler.RegisterRoutes,
		tripHandler.RegisterRoutes,
		settingsHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newMetrics builds the telemetry backend: CloudWatch when enabled, no-op
// otherwise.
func newMetrics(cfg *config.Config, logger *slog.Logger) (apiMetrics, error) {
	if !cfg.Telemetry.Enabled {
		return telemetry.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Telemetry.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Telemetry.Namespace, logger), nil
}

// apiMetrics is the union of the metric surfaces this binary wires.
type apiMetrics interface {
	engine.Metrics
	signals.CacheMetrics
	core.MetricsCollector
}

// dbProbe reports database connectivity for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given level.
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
