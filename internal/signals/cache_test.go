package signals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ngetem/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockSignalStore is an in-memory SignalStore.
type mockSignalStore struct {
	entries  map[string]*types.SignalEntry
	getErr   error
	putErr   error
	puts     int
	setErrs  int
}

func newMockSignalStore() *mockSignalStore {
	return &mockSignalStore{entries: make(map[string]*types.SignalEntry)}
}

func (m *mockSignalStore) Get(_ context.Context, key string) (*types.SignalEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *mockSignalStore) Put(_ context.Context, entry *types.SignalEntry) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	cp := *entry
	m.entries[entry.Key] = &cp
	return nil
}

func (m *mockSignalStore) SetError(_ context.Context, key string, at time.Time, message string) error {
	m.setErrs++
	if e, ok := m.entries[key]; ok {
		e.LastErrorAt = &at
		e.LastErrorMessage = message
	}
	return nil
}

func (m *mockSignalStore) ListExpiring(context.Context, time.Time, time.Duration, int) ([]types.SignalEntry, error) {
	return nil, nil
}

func (m *mockSignalStore) Delete(_ context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func fetchReturning(payload string, err error) (FetchFunc, *int) {
	calls := new(int)
	return func(context.Context) (json.RawMessage, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		return json.RawMessage(payload), nil
	}, calls
}

func newTestCache(store types.SignalStore, clock types.Clock) *Cache {
	return NewCache(CacheConfig{
		Store:  store,
		Clock:  clock,
		Logger: slog.New(slog.DiscardHandler),
	})
}

var onlineOpts = types.SignalOptions{AllowNetwork: true}

// ============================================================
// Tests
// ============================================================

func TestGetOrFetchEmptyCacheFetches(t *testing.T) {
	store := newMockSignalStore()
	clock := &testClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	cache := newTestCache(store, clock)
	fetch, calls := fetchReturning(`{"v":1}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "weather:-6.20,106.80", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("fetch called %d times, want 1", *calls)
	}
	if !res.Meta.Fresh || res.Meta.FromCache {
		t.Errorf("meta = %+v, want fresh network result", res.Meta)
	}
	if store.puts != 1 {
		t.Errorf("store.Put called %d times, want 1", store.puts)
	}
	if e := store.entries["weather:-6.20,106.80"]; e == nil || e.TTLSeconds != 1800 {
		t.Errorf("stored entry = %+v, want ttl 1800s", e)
	}
}

func TestGetOrFetchFreshServedWithoutNetwork(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-10 * time.Minute),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(`{"v":2}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 0 {
		t.Errorf("fetch called %d times on fresh entry, want 0", *calls)
	}
	if !res.Meta.Fresh || !res.Meta.FromCache {
		t.Errorf("meta = %+v, want fresh cache hit", res.Meta)
	}
	if res.Meta.AgeSeconds != 600 {
		t.Errorf("AgeSeconds = %d, want 600", res.Meta.AgeSeconds)
	}
	if string(res.Payload) != `{"v":1}` {
		t.Errorf("payload = %s, want cached payload", res.Payload)
	}
}

func TestGetOrFetchTTLBoundaryIsStale(t *testing.T) {
	// An entry read exactly at its TTL is stale: the freshness comparison
	// is strict.
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-30 * time.Minute),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(`{"v":2}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("fetch called %d times at TTL boundary, want 1 (refetch)", *calls)
	}
	if string(res.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want refetched payload", res.Payload)
	}

	// One second earlier the same entry is still fresh.
	clock2 := &testClock{t: now.Add(-time.Second)}
	cache2 := newTestCache(store, clock2)
	store.entries["k2"] = &types.SignalEntry{
		Key:        "k2",
		FetchedAt:  now.Add(-30 * time.Minute),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	fetch2, calls2 := fetchReturning(`{"v":3}`, nil)
	if _, err := cache2.GetOrFetch(context.Background(), "k2", 30*time.Minute, onlineOpts, fetch2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls2 != 0 {
		t.Errorf("fetch called %d times one second before TTL, want 0", *calls2)
	}
}

func TestGetOrFetchAllowStaleSkipsNetwork(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-2 * time.Hour),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(`{"v":2}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute,
		types.SignalOptions{AllowNetwork: true, AllowStale: true}, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 0 {
		t.Errorf("fetch called %d times with AllowStale, want 0", *calls)
	}
	if !res.Meta.Stale || res.Meta.Fresh {
		t.Errorf("meta = %+v, want stale cache hit", res.Meta)
	}
}

func TestGetOrFetchOfflineWithCache(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-3 * time.Hour),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(``, errors.New("must not be called"))

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute,
		types.SignalOptions{AllowNetwork: false}, fetch)
	if err != nil {
		t.Fatalf("offline with cache must serve: %v", err)
	}
	if *calls != 0 {
		t.Errorf("fetch called %d times offline, want 0", *calls)
	}
	if !res.Meta.Stale {
		t.Errorf("meta = %+v, want stale serve", res.Meta)
	}
}

func TestGetOrFetchOfflineNoCacheFails(t *testing.T) {
	store := newMockSignalStore()
	cache := newTestCache(store, &testClock{t: time.Now().UTC()})
	fetch, calls := fetchReturning(``, errors.New("must not be called"))

	_, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute,
		types.SignalOptions{AllowNetwork: false}, fetch)
	if err == nil {
		t.Fatal("expected error for offline empty cache")
	}
	if *calls != 0 {
		t.Errorf("fetch called %d times offline, want 0", *calls)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != types.ErrCodeSignalOfflineNoCache {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeSignalOfflineNoCache)
	}
}

func TestGetOrFetchFailureServesStaleWithErrorMeta(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-2 * time.Hour),
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, _ := fetchReturning(``, errors.New("upstream 503"))

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("fetch failure with cache must degrade, not fail: %v", err)
	}
	if string(res.Payload) != `{"v":1}` {
		t.Errorf("payload = %s, want last good payload", res.Payload)
	}
	if !res.Meta.Stale {
		t.Errorf("meta = %+v, want stale", res.Meta)
	}
	if res.Meta.LastErrorAt == nil || !strings.Contains(res.Meta.LastErrorMessage, "upstream 503") {
		t.Errorf("meta lacks error provenance: %+v", res.Meta)
	}
	if store.setErrs != 1 {
		t.Errorf("SetError called %d times, want 1", store.setErrs)
	}
	// The stored payload must be untouched.
	if string(store.entries["k"].Payload) != `{"v":1}` {
		t.Error("stored payload was modified by a failed fetch")
	}
}

func TestGetOrFetchFailureEmptyCachePropagates(t *testing.T) {
	store := newMockSignalStore()
	cache := newTestCache(store, &testClock{t: time.Now().UTC()})
	fetch, _ := fetchReturning(``, errors.New("connection refused"))

	_, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err == nil {
		t.Fatal("expected error when fetch fails with empty cache")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error %v does not wrap the fetch failure", err)
	}
}

func TestGetOrFetchFailureCooldown(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	errAt := now.Add(-2 * time.Minute)
	store.entries["k"] = &types.SignalEntry{
		Key:              "k",
		FetchedAt:        now.Add(-2 * time.Hour),
		TTLSeconds:       1800,
		Payload:          json.RawMessage(`{"v":1}`),
		LastErrorAt:      &errAt,
		LastErrorMessage: "previous failure",
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(`{"v":2}`, nil)

	// Within the 5-minute cooldown even a stale entry is served without a
	// network attempt.
	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 0 {
		t.Errorf("fetch called %d times in cooldown, want 0", *calls)
	}
	if res.Meta.LastErrorMessage != "previous failure" {
		t.Errorf("meta = %+v, want last error surfaced", res.Meta)
	}

	// After the cooldown expires, the network is retried.
	clock2 := &testClock{t: now.Add(4 * time.Minute)} // 6 min after the error
	cache2 := newTestCache(store, clock2)
	res2, err := cache2.GetOrFetch(context.Background(), "k", 30*time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("fetch called %d times after cooldown, want 1", *calls)
	}
	if !res2.Meta.Fresh {
		t.Errorf("meta = %+v, want fresh refetch", res2.Meta)
	}
	// A successful refetch clears error state in the store.
	if e := store.entries["k"]; e.LastErrorAt != nil || e.LastErrorMessage != "" {
		t.Errorf("error state not cleared after success: %+v", e)
	}
}

func TestGetOrFetchForceRefresh(t *testing.T) {
	store := newMockSignalStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.entries["k"] = &types.SignalEntry{
		Key:        "k",
		FetchedAt:  now.Add(-time.Minute), // perfectly fresh
		TTLSeconds: 1800,
		Payload:    json.RawMessage(`{"v":1}`),
	}
	cache := newTestCache(store, &testClock{t: now})
	fetch, calls := fetchReturning(`{"v":2}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "k", 30*time.Minute,
		types.SignalOptions{AllowNetwork: true, ForceRefresh: true}, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("fetch called %d times with ForceRefresh, want 1", *calls)
	}
	if string(res.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want refetched", res.Payload)
	}
}

func TestGetOrFetchStoreWriteFailureStillServes(t *testing.T) {
	store := newMockSignalStore()
	store.putErr = errors.New("disk full")
	cache := newTestCache(store, &testClock{t: time.Now().UTC()})
	fetch, _ := fetchReturning(`{"v":1}`, nil)

	res, err := cache.GetOrFetch(context.Background(), "k", time.Minute, onlineOpts, fetch)
	if err != nil {
		t.Fatalf("cache write failure must not fail the read: %v", err)
	}
	if string(res.Payload) != `{"v":1}` {
		t.Errorf("payload = %s, want fetched payload", res.Payload)
	}
}
