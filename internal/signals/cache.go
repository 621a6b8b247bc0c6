package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ngetem/internal/types"
)

// FailureCooldown is how long the cache refuses to retry the network for a
// key after a failed fetch, provided something cached can be served instead.
// This keeps a failing upstream from being hammered on every recommendation
// cycle.
const FailureCooldown = 5 * time.Minute

// FetchFunc performs the actual upstream fetch for a cache key.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// CacheMetrics is the telemetry surface for cache outcomes.
type CacheMetrics interface {
	SignalCacheHit(ctx context.Context, signal string, stale bool)
	SignalCacheMiss(ctx context.Context, signal string)
}

// Cache is the read-through signal cache. Per key it walks a small state
// machine: empty -> fresh -> stale -> error-cooldown. Freshness is computed
// at read time from the stored fetch timestamp and TTL, never stored. Failed
// re-fetches patch error metadata onto the entry but keep the last good
// payload, so the engine can keep running on stale data with honest
// provenance.
//
// The cache implements no mutual exclusion of its own: two near-simultaneous
// refreshes for one key may both fetch, last writer wins. Accepted for a
// single-driver client.
type Cache struct {
	store    types.SignalStore
	clock    types.Clock
	logger   *slog.Logger
	metrics  CacheMetrics
	cooldown time.Duration
}

// CacheConfig holds the dependencies for creating a Cache.
type CacheConfig struct {
	Store   types.SignalStore
	Clock   types.Clock
	Logger  *slog.Logger
	Metrics CacheMetrics
	// Cooldown overrides FailureCooldown when positive.
	Cooldown time.Duration
}

// NewCache creates a Cache with the given configuration.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = FailureCooldown
	}
	return &Cache{
		store:    cfg.Store,
		clock:    clock,
		logger:   logger,
		metrics:  cfg.Metrics,
		cooldown: cooldown,
	}
}

// GetOrFetch resolves one signal read. ttl applies to entries written by this
// call; existing entries are judged by the TTL they were stored with.
//
// Resolution order:
//  1. Without ForceRefresh, a fresh entry -- or any entry when AllowStale --
//     is served from cache with no network call.
//  2. A fetch failure within the cooldown window serves whatever is cached,
//     even stale or errored, rather than retrying the network.
//  3. With AllowNetwork false, whatever is cached is served; if nothing is
//     cached the call fails with signal_no_cache_available_offline.
//  4. Otherwise the upstream is fetched. Success overwrites the entry and
//     clears error state. Failure patches error metadata onto an existing
//     entry and serves its stale payload; with no entry the failure
//     propagates.
//
// Every success returns SignalMeta so callers can explain what they got.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, opts types.SignalOptions, fetch FetchFunc) (*types.SignalResult, error) {
	now := c.clock.Now()

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading signal cache for %s: %w", key, err)
	}

	if entry != nil && !opts.ForceRefresh {
		if isFresh(entry, now) || opts.AllowStale {
			c.recordHit(ctx, key, entry, now)
			return c.cachedResult(entry, now), nil
		}
	}

	// Failure cooldown: a recent failed fetch plus anything cached means
	// serve the cache and stay off the network.
	if entry != nil && entry.LastErrorAt != nil && now.Sub(*entry.LastErrorAt) < c.cooldown {
		c.logger.DebugContext(ctx, "signal fetch in failure cooldown, serving cached",
			"key", key,
			"last_error_at", entry.LastErrorAt,
		)
		c.recordHit(ctx, key, entry, now)
		return c.cachedResult(entry, now), nil
	}

	if !opts.AllowNetwork {
		if entry != nil {
			c.recordHit(ctx, key, entry, now)
			return c.cachedResult(entry, now), nil
		}
		return nil, types.NewAppError(
			types.ErrCodeSignalOfflineNoCache,
			fmt.Sprintf("no cache available offline for signal %q", key),
			nil,
		)
	}

	if c.metrics != nil {
		c.metrics.SignalCacheMiss(ctx, key)
	}

	payload, fetchErr := fetch(ctx)
	if fetchErr != nil {
		if entry != nil {
			// Keep the last good payload; only patch the error metadata.
			if serr := c.store.SetError(ctx, key, now, fetchErr.Error()); serr != nil {
				c.logger.ErrorContext(ctx, "failed to record signal fetch error",
					"key", key,
					"error", serr,
				)
			}
			c.logger.WarnContext(ctx, "signal fetch failed, serving stale payload",
				"key", key,
				"error", fetchErr,
			)
			errAt := now
			patched := *entry
			patched.LastErrorAt = &errAt
			patched.LastErrorMessage = fetchErr.Error()
			return c.cachedResult(&patched, now), nil
		}
		return nil, fmt.Errorf("fetching signal %s with empty cache: %w", key, fetchErr)
	}

	fresh := &types.SignalEntry{
		Key:        key,
		FetchedAt:  now,
		TTLSeconds: int(ttl / time.Second),
		Payload:    payload,
	}
	if err := c.store.Put(ctx, fresh); err != nil {
		// The fetch succeeded; a cache write failure downgrades to a warning
		// and the fresh payload is still returned.
		c.logger.ErrorContext(ctx, "failed to write signal cache entry",
			"key", key,
			"error", err,
		)
	}

	return &types.SignalResult{
		Payload: payload,
		Meta: types.SignalMeta{
			Key:       key,
			Fresh:     true,
			FromCache: false,
		},
	}, nil
}

// isFresh reports whether the entry is inside its freshness window at the
// given instant. An entry read exactly at the TTL boundary is stale (strict
// less-than).
func isFresh(entry *types.SignalEntry, now time.Time) bool {
	return now.Sub(entry.FetchedAt) < time.Duration(entry.TTLSeconds)*time.Second
}

func (c *Cache) cachedResult(entry *types.SignalEntry, now time.Time) *types.SignalResult {
	fresh := isFresh(entry, now)
	return &types.SignalResult{
		Payload: entry.Payload,
		Meta: types.SignalMeta{
			Key:              entry.Key,
			AgeSeconds:       int64(now.Sub(entry.FetchedAt) / time.Second),
			Fresh:            fresh,
			Stale:            !fresh,
			FromCache:        true,
			LastErrorAt:      entry.LastErrorAt,
			LastErrorMessage: entry.LastErrorMessage,
		},
	}
}

func (c *Cache) recordHit(ctx context.Context, key string, entry *types.SignalEntry, now time.Time) {
	if c.metrics != nil {
		c.metrics.SignalCacheHit(ctx, key, !isFresh(entry, now))
	}
}
