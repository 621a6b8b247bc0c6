package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError wraps a configuration failure with the stage it occurred in, so
// startup logs point directly at the misconfigured layer.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig builds the process configuration from the environment. A .env
// file, when present, seeds variables for local runs but never overrides ones
// already set. All time handling in the engine is UTC, enforced here once.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: "parse", Err: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, &ConfigError{Stage: "validate", Err: err}
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns)
	}
	if cfg.Poller.BatchLimit <= 0 {
		return fmt.Errorf("POLLER_BATCH_LIMIT must be positive, got %d", cfg.Poller.BatchLimit)
	}
	return nil
}
