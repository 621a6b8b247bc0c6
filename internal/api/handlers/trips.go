package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ngetem/internal/core"
	"ngetem/internal/types"
)

// TripRepo defines the data access contract for trip operations. Mirrors the
// concrete db.TripRepository methods used by this handler.
type TripRepo interface {
	Create(ctx context.Context, trip *types.Trip) error
	GetByID(ctx context.Context, id string) (*types.Trip, error)
	GetAll(ctx context.Context) ([]types.Trip, error)
	Delete(ctx context.Context, id string) error
}

// CreateTripRequest is the request body for POST /v1/trips. Coordinates are
// optional so imported records without GPS data can still be logged; trips
// missing a start coordinate simply never contribute to per-cell history.
type CreateTripRequest struct {
	StartedAt time.Time `json:"started_at" validate:"required"`
	EndedAt   time.Time `json:"ended_at" validate:"required"`
	StartLat  *float64  `json:"start_lat,omitempty" validate:"omitempty,latitude"`
	StartLon  *float64  `json:"start_lon,omitempty" validate:"omitempty,longitude"`
	EndLat    *float64  `json:"end_lat,omitempty" validate:"omitempty,latitude"`
	EndLon    *float64  `json:"end_lon,omitempty" validate:"omitempty,longitude"`
	Earnings  float64   `json:"earnings" validate:"gte=0"`
	Note      string    `json:"note,omitempty" validate:"max=500"`
	Source    string    `json:"source,omitempty" validate:"omitempty,oneof=manual imported assistant"`
	SessionID *string   `json:"session_id,omitempty" validate:"omitempty,max=64"`
}

// TripHandler manages trip records.
type TripHandler struct {
	repo      TripRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewTripHandler creates a TripHandler.
func NewTripHandler(repo TripRepo, v *core.Validator, l *slog.Logger) *TripHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TripHandler{
		repo:      repo,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts trip routes on the provided chi.Router.
func (h *TripHandler) RegisterRoutes(r chi.Router) {
	r.Route("/trips", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/trips.
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.EndedAt.Before(req.StartedAt) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationTripWindow,
			"trip end must not precede trip start",
			nil,
		))
		return
	}
	// A start coordinate must come as a pair.
	if (req.StartLat == nil) != (req.StartLon == nil) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"start_lat and start_lon must be provided together",
			nil,
		))
		return
	}

	source := types.TripSource(req.Source)
	if source == "" {
		source = types.TripSourceManual
	}

	trip := &types.Trip{
		ID:        "trip_" + uuid.NewString(),
		StartedAt: req.StartedAt.UTC(),
		EndedAt:   req.EndedAt.UTC(),
		StartLat:  req.StartLat,
		StartLon:  req.StartLon,
		EndLat:    req.EndLat,
		EndLon:    req.EndLon,
		Earnings:  req.Earnings,
		Note:      req.Note,
		Source:    source,
		SessionID: req.SessionID,
	}

	if err := h.repo.Create(r.Context(), trip); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("trip recorded",
		"trip_id", trip.ID,
		"source", string(trip.Source),
		"earnings", trip.Earnings,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: trip})
}

// List handles GET /v1/trips.
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	trips, err := h.repo.GetAll(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if trips == nil {
		trips = []types.Trip{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: trips})
}

// Get handles GET /v1/trips/{id}.
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trip, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: trip})
}

// Delete handles DELETE /v1/trips/{id}.
func (h *TripHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusNoContent, nil)
}
