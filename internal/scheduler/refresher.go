// Package scheduler implements background jobs for the ngetem engine. The
// signal refresher re-warms cache entries that are about to expire so that
// interactive recommendation requests rarely pay upstream fetch latency.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ngetem/internal/signals"
	"ngetem/internal/types"
)

// RefreshMetrics is the telemetry surface for re-warm attempts.
type RefreshMetrics interface {
	SignalRefresh(ctx context.Context, signal string, ok bool)
}

// POIRefresher re-fetches the POI signal for a bounding box through the
// cache. Satisfied by signals.CachedPOIProvider.
type POIRefresher interface {
	GetPOI(ctx context.Context, bbox types.BoundingBox, opts types.SignalOptions) (*types.POIPayload, types.SignalMeta, error)
}

// WeatherRefresher re-fetches the weather signal for a coordinate through
// the cache. Satisfied by signals.CachedWeatherProvider.
type WeatherRefresher interface {
	GetWeather(ctx context.Context, lat, lon float64, opts types.SignalOptions) (*types.WeatherSummary, types.SignalMeta, error)
}

// Refresher scans the signal store for entries whose freshness window closes
// within the configured horizon and re-fetches them through the normal cache
// path, so failure cooldowns and error bookkeeping apply unchanged.
type Refresher struct {
	store   types.SignalStore
	poi     POIRefresher
	weather WeatherRefresher
	metrics RefreshMetrics
	clock   types.Clock
	logger  *slog.Logger

	interval time.Duration
	horizon  time.Duration
	limit    int
}

// RefresherConfig holds the dependencies for creating a Refresher.
type RefresherConfig struct {
	Store    types.SignalStore
	POI      POIRefresher
	Weather  WeatherRefresher
	Metrics  RefreshMetrics
	Clock    types.Clock
	Logger   *slog.Logger
	Interval time.Duration
	Horizon  time.Duration
	Limit    int
}

// NewRefresher creates a Refresher with the given configuration.
func NewRefresher(cfg RefresherConfig) *Refresher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Refresher{
		store:    cfg.Store,
		poi:      cfg.POI,
		weather:  cfg.Weather,
		metrics:  cfg.Metrics,
		clock:    clock,
		logger:   logger,
		interval: cfg.Interval,
		horizon:  cfg.Horizon,
		limit:    cfg.Limit,
	}
}

// Run executes refresh cycles on the configured interval until the context
// is cancelled. One cycle runs immediately at startup.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if n, err := r.RefreshOnce(ctx); err != nil {
		r.logger.Error("initial refresh cycle failed", "error", err)
	} else {
		r.logger.Info("refresh cycle complete", "refreshed", n)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RefreshOnce(ctx)
			if err != nil {
				r.logger.Error("refresh cycle failed", "error", err)
				continue
			}
			r.logger.Info("refresh cycle complete", "refreshed", n)
		}
	}
}

// RefreshOnce runs a single refresh cycle and returns the number of entries
// successfully re-warmed. Individual entry failures are logged and counted
// in telemetry but do not abort the cycle; the cache records the failure and
// its cooldown suppresses immediate retries.
func (r *Refresher) RefreshOnce(ctx context.Context) (int, error) {
	entries, err := r.store.ListExpiring(ctx, r.clock.Now(), r.horizon, r.limit)
	if err != nil {
		return 0, fmt.Errorf("listing expiring signal entries: %w", err)
	}

	refreshed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := r.refreshEntry(ctx, entry.Key); err != nil {
			r.logger.Warn("signal refresh failed",
				"key", entry.Key,
				"error", err,
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// refreshOpts forces a network fetch regardless of remaining freshness. The
// cache's failure cooldown still applies, so a recently failed upstream is
// not hammered.
var refreshOpts = types.SignalOptions{
	AllowNetwork: true,
	ForceRefresh: true,
	AllowStale:   false,
}

func (r *Refresher) refreshEntry(ctx context.Context, key string) error {
	switch {
	case strings.HasPrefix(key, "poi:"):
		bbox, err := parsePOIKey(key)
		if err != nil {
			return err
		}
		_, _, err = r.poi.GetPOI(ctx, bbox, refreshOpts)
		r.record(ctx, "poi", err)
		return err

	case strings.HasPrefix(key, "weather:"):
		lat, lon, err := parseWeatherKey(key)
		if err != nil {
			return err
		}
		_, _, err = r.weather.GetWeather(ctx, lat, lon, refreshOpts)
		r.record(ctx, "weather", err)
		return err

	default:
		// Unknown key namespaces are dropped so they do not clog every cycle.
		r.logger.Warn("deleting signal entry with unknown key namespace", "key", key)
		return r.store.Delete(ctx, key)
	}
}

func (r *Refresher) record(ctx context.Context, signal string, err error) {
	if r.metrics != nil {
		r.metrics.SignalRefresh(ctx, signal, err == nil)
	}
}

// parsePOIKey inverts signals.POIKey.
func parsePOIKey(key string) (types.BoundingBox, error) {
	var bbox types.BoundingBox
	_, err := fmt.Sscanf(strings.TrimPrefix(key, "poi:"), "%f,%f,%f,%f",
		&bbox.South, &bbox.West, &bbox.North, &bbox.East)
	if err != nil {
		return types.BoundingBox{}, fmt.Errorf("malformed poi key %q: %w", key, err)
	}
	// Round-trip through the canonical key so a hand-written entry cannot
	// spawn a second cache row for the same box.
	if signals.POIKey(bbox) != key {
		return types.BoundingBox{}, fmt.Errorf("non-canonical poi key %q", key)
	}
	return bbox, nil
}

// parseWeatherKey inverts signals.WeatherKey.
func parseWeatherKey(key string) (lat, lon float64, err error) {
	_, err = fmt.Sscanf(strings.TrimPrefix(key, "weather:"), "%f,%f", &lat, &lon)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed weather key %q: %w", key, err)
	}
	if signals.WeatherKey(lat, lon) != key {
		return 0, 0, fmt.Errorf("non-canonical weather key %q", key)
	}
	return lat, lon, nil
}
