package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngetem/internal/core"
	"ngetem/internal/types"
)

// =============================================================================
// Mock Implementations for Trip Handler
// =============================================================================

type mockTripRepo struct {
	createFn  func(ctx context.Context, trip *types.Trip) error
	getByIDFn func(ctx context.Context, id string) (*types.Trip, error)
	getAllFn  func(ctx context.Context) ([]types.Trip, error)
	deleteFn  func(ctx context.Context, id string) error

	lastCreated *types.Trip
	deleted     []string
}

func (m *mockTripRepo) Create(ctx context.Context, trip *types.Trip) error {
	m.lastCreated = trip
	if m.createFn != nil {
		return m.createFn(ctx, trip)
	}
	return nil
}

func (m *mockTripRepo) GetByID(ctx context.Context, id string) (*types.Trip, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &types.Trip{
		ID:        id,
		StartedAt: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC),
		Earnings:  25000,
		Source:    types.TripSourceManual,
	}, nil
}

func (m *mockTripRepo) GetAll(ctx context.Context) ([]types.Trip, error) {
	if m.getAllFn != nil {
		return m.getAllFn(ctx)
	}
	return nil, nil
}

func (m *mockTripRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// =============================================================================
// Test Helper
// =============================================================================

func newTestTripHandler() (*TripHandler, *mockTripRepo) {
	repo := &mockTripRepo{}
	logger := slog.Default()
	return NewTripHandler(repo, core.NewValidator(logger), logger), repo
}

func validTripRequest() CreateTripRequest {
	lat, lon := -6.1649, 106.846
	return CreateTripRequest{
		StartedAt: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 3, 14, 18, 45, 0, 0, time.UTC),
		StartLat:  &lat,
		StartLon:  &lon,
		Earnings:  32000,
		Note:      "gocar bandara",
	}
}

// =============================================================================
// Create Tests
// =============================================================================

func TestTripHandler_Create_Success(t *testing.T) {
	handler, repo := newTestTripHandler()

	req := postJSON(t, "/v1/trips", validTripRequest())
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	created := repo.lastCreated
	require.NotNil(t, created)
	assert.True(t, strings.HasPrefix(created.ID, "trip_"))
	assert.Equal(t, types.TripSourceManual, created.Source, "source defaults to manual")
	assert.Equal(t, 32000.0, created.Earnings)
	assert.Equal(t, time.UTC, created.StartedAt.Location())
	require.NotNil(t, created.StartLat)
	assert.Equal(t, -6.1649, *created.StartLat)
}

func TestTripHandler_Create_PreservesSource(t *testing.T) {
	handler, repo := newTestTripHandler()

	body := validTripRequest()
	body.Source = "imported"

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, repo.lastCreated)
	assert.Equal(t, types.TripSourceImported, repo.lastCreated.Source)
}

func TestTripHandler_Create_RejectsUnknownSource(t *testing.T) {
	handler, repo := newTestTripHandler()

	body := validTripRequest()
	body.Source = "scraped"

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, repo.lastCreated)
}

func TestTripHandler_Create_RejectsInvertedWindow(t *testing.T) {
	handler, repo := newTestTripHandler()

	body := validTripRequest()
	body.StartedAt, body.EndedAt = body.EndedAt, body.StartedAt

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationTripWindow), decodeErrorCode(t, rr))
	assert.Nil(t, repo.lastCreated)
}

func TestTripHandler_Create_RejectsUnpairedCoordinate(t *testing.T) {
	handler, repo := newTestTripHandler()

	body := validTripRequest()
	body.StartLon = nil

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr))
	assert.Nil(t, repo.lastCreated)
}

func TestTripHandler_Create_AllowsMissingCoordinates(t *testing.T) {
	handler, repo := newTestTripHandler()

	body := validTripRequest()
	body.StartLat, body.StartLon = nil, nil

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, repo.lastCreated)
	assert.False(t, repo.lastCreated.HasStart())
}

func TestTripHandler_Create_RejectsOutOfRangeLatitude(t *testing.T) {
	handler, _ := newTestTripHandler()

	body := validTripRequest()
	bad := 91.0
	body.StartLat = &bad

	req := postJSON(t, "/v1/trips", body)
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// List / Get / Delete Tests
// =============================================================================

func TestTripHandler_List_EmptyIsArray(t *testing.T) {
	handler, _ := newTestTripHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/trips", nil)
	rr := httptest.NewRecorder()
	handler.List(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	// An empty history must serialize as [], not null.
	assert.Contains(t, rr.Body.String(), `"data":[]`)
}

func TestTripHandler_Get_NotFound(t *testing.T) {
	handler, repo := newTestTripHandler()
	repo.getByIDFn = func(_ context.Context, id string) (*types.Trip, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil)
	}

	req := tripRequestWithID(http.MethodGet, "trip_missing")
	rr := httptest.NewRecorder()
	handler.Get(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundTrip), decodeErrorCode(t, rr))
}

func TestTripHandler_Delete_Success(t *testing.T) {
	handler, repo := newTestTripHandler()

	req := tripRequestWithID(http.MethodDelete, "trip_abc")
	rr := httptest.NewRecorder()
	handler.Delete(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"trip_abc"}, repo.deleted)
}

// tripRequestWithID builds a request whose chi route context carries the id
// URL parameter, since handlers are invoked here without the full router.
func tripRequestWithID(method, id string) *http.Request {
	req := httptest.NewRequest(method, "/v1/trips/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
