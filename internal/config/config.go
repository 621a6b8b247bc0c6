// Package config defines the configuration for the ngetem engine binaries.
// Configuration is loaded once at process start and is immutable thereafter,
// strictly separating code from configuration. Any missing required value or
// invalid format fails startup immediately.
package config

import (
	"time"

	"ngetem/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"ngetem"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Signals   SignalsConfig
	Poller    PollerConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SignalsConfig holds upstream endpoints and fetch behavior for the POI and
// weather signals.
type SignalsConfig struct {
	POIEndpoint     string        `envconfig:"POI_ENDPOINT" default:"https://overpass-api.de/api/interpreter" validate:"required,url"`
	WeatherEndpoint string        `envconfig:"WEATHER_ENDPOINT" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
	UserAgent       string        `envconfig:"SIGNAL_USER_AGENT" default:"Ngetem-Signals/1.0"`
	FetchTimeout    time.Duration `envconfig:"SIGNAL_FETCH_TIMEOUT" default:"12s"`
}

// PollerConfig holds settings for the background signal refresher.
type PollerConfig struct {
	Interval       time.Duration `envconfig:"POLLER_INTERVAL" default:"10m"`
	RefreshHorizon time.Duration `envconfig:"POLLER_REFRESH_HORIZON" default:"15m"`
	BatchLimit     int           `envconfig:"POLLER_BATCH_LIMIT" default:"20"`
}

// TelemetryConfig holds CloudWatch metric emission settings. Disabled by
// default so local runs need no AWS credentials.
type TelemetryConfig struct {
	Enabled   bool   `envconfig:"TELEMETRY_ENABLED" default:"false"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Ngetem"`
	AWSRegion string `envconfig:"AWS_REGION" default:"ap-southeast-1"`
}
