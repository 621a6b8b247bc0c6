package signals

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ngetem/internal/types"
)

func noSleep(time.Duration) {}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Millisecond,
		MaxWait:    5 * time.Millisecond,
	}
}

func TestClientSuccessFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "Ngetem-Test/1.0", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}

func TestClientSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "Ngetem-Signals/1.0", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotUA != "Ngetem-Signals/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestClientRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	defer resp.Body.Close()

	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("server hit %d times, want 3", calls)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "recovered" {
		t.Errorf("body = %q", body)
	}
}

func TestClientExhaustedRetriesMapsError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	_, err := c.Do(req)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if atomic.LoadInt32(&calls) != 3 { // 1 attempt + 2 retries
		t.Errorf("server hit %d times, want 3", calls)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeUpstreamUnavailable)
	}
}

func TestClientRateLimitMapsTo429Code(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	_, err := c.Do(req)
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeUpstreamRateLimited)
	}
}

func TestClientNoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("4xx must be returned, not retried: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}

func TestClientReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("data=payload"))

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("server hit %d times, want 2", len(bodies))
	}
	for i, b := range bodies {
		if b != "data=payload" {
			t.Errorf("attempt %d body = %q, want full replay", i, b)
		}
	}
}

func TestClientRetryAfterHeader(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := NewClient(srv.Client(), t.Name(), testPolicy(), "",
		WithSleepFunc(func(d time.Duration) { slept = append(slept, d) }))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(slept))
	}
	// Retry-After of 1s is clamped to MaxWait (5 ms in the test policy).
	if slept[0] != c.retryPolicy.MaxWait {
		t.Errorf("slept %v, want MaxWait %v", slept[0], c.retryPolicy.MaxWait)
	}
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), t.Name(), testPolicy(), "", WithSleepFunc(noSleep))

	// Two full Do cycles of 3 attempts each push the breaker past its
	// 5-consecutive-failure trip point.
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if _, err := c.Do(req); err == nil {
			t.Fatal("expected error from failing upstream")
		}
	}

	before := atomic.LoadInt32(&calls)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Do(req)
	if err == nil {
		t.Fatal("expected error from open breaker")
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Errorf("open breaker still reached the server: %d -> %d calls", before, got)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("code = %q, want %q (open breaker)", appErr.Code, types.ErrCodeUpstreamRateLimited)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	c := NewClient(http.DefaultClient, t.Name(), RetryPolicy{
		MaxRetries: 5,
		MinWait:    100 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}, "", WithSleepFunc(noSleep))

	for attempt := 0; attempt < 10; attempt++ {
		got := c.computeBackoff(attempt, nil)
		if got < c.retryPolicy.MinWait || got > c.retryPolicy.MaxWait {
			t.Errorf("attempt %d backoff %v outside [%v, %v]", attempt, got, c.retryPolicy.MinWait, c.retryPolicy.MaxWait)
		}
	}
}
