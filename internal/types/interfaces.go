package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// TripRepository defines the data access interface for trips.
type TripRepository interface {
	Create(ctx context.Context, trip *Trip) error
	GetByID(ctx context.Context, id string) (*Trip, error)
	GetAll(ctx context.Context) ([]Trip, error)
	Delete(ctx context.Context, id string) error
}

// SettingsRepository defines the data access interface for the singleton
// settings record. Get creates the default record when none exists.
type SettingsRepository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
	// UpdateWeights persists a new weight vector in a single statement so
	// that concurrent callers serialize at the database.
	UpdateWeights(ctx context.Context, w Weights) (*Settings, error)
}

// SignalStore defines the data access interface for persisted signal-cache
// entries. Get returns (nil, nil) when the key is absent.
type SignalStore interface {
	Get(ctx context.Context, key string) (*SignalEntry, error)
	Put(ctx context.Context, entry *SignalEntry) error
	SetError(ctx context.Context, key string, at time.Time, message string) error
	// ListExpiring returns entries whose freshness window ends within the
	// given horizon, oldest first, capped at limit.
	ListExpiring(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]SignalEntry, error)
	Delete(ctx context.Context, key string) error
}

// EventRepository defines the data access interface for recommendation events.
type EventRepository interface {
	Create(ctx context.Context, event *RecommendationEvent) error
	GetByID(ctx context.Context, id string) (*RecommendationEvent, error)
	// RecordOutcome patches the chosen cell and followed flag onto an
	// existing event.
	RecordOutcome(ctx context.Context, id string, chosenCell string, followed bool) error
}

// Logger is the minimal structured logging surface used where a full
// *slog.Logger dependency is undesirable (telemetry, external clients).
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
