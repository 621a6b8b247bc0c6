// Package handlers contains the HTTP handler implementations for the ngetem
// API: recommendations and outcome reporting, trip CRUD, and settings.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ngetem/internal/core"
	"ngetem/internal/engine"
	"ngetem/internal/types"
)

// RecommendService is the engine surface the recommendation handler depends
// on. Defined locally so tests can inject a stub without touching the engine
// package.
type RecommendService interface {
	Recommend(ctx context.Context, req engine.RecommendRequest) (*engine.RecommendResponse, error)
	RecordOutcome(ctx context.Context, req engine.OutcomeRequest) (*types.Settings, error)
}

// RecommendationRequest is the request body for POST /v1/recommendations.
type RecommendationRequest struct {
	Lat          float64            `json:"lat" validate:"latitude"`
	Lon          float64            `json:"lon" validate:"longitude"`
	AreaID       string             `json:"area_id,omitempty" validate:"omitempty,max=64"`
	BBox         *types.BoundingBox `json:"bbox,omitempty"`
	AllowNetwork *bool              `json:"allow_network,omitempty"`
	ForceRefresh bool               `json:"force_refresh,omitempty"`
}

// OutcomeReportRequest is the request body for POST /v1/outcomes.
type OutcomeReportRequest struct {
	EventID        string  `json:"event_id,omitempty" validate:"omitempty,max=64"`
	Cell           string  `json:"cell" validate:"required,max=32"`
	PredictedScore float64 `json:"predicted_score"`
	ActualEPH      float64 `json:"actual_eph" validate:"gte=0"`
	Followed       bool    `json:"followed"`
}

// RecommendationHandler serves recommendation requests and closes the
// learning loop via outcome reports.
type RecommendationHandler struct {
	service   RecommendService
	validator *core.Validator
	logger    *slog.Logger
}

// NewRecommendationHandler creates a RecommendationHandler.
func NewRecommendationHandler(service RecommendService, v *core.Validator, l *slog.Logger) *RecommendationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &RecommendationHandler{
		service:   service,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the recommendation routes on the provided chi.Router.
func (h *RecommendationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/recommendations", h.Recommend)
	r.Post("/outcomes", h.ReportOutcome)
}

// Recommend handles POST /v1/recommendations. It forwards the decoded
// request to the engine and wraps the response in the standard envelope,
// surfacing stale-signal provenance as non-blocking meta warnings.
func (h *RecommendationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.BBox != nil && (req.BBox.South > req.BBox.North || req.BBox.West > req.BBox.East) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationBoundingBox,
			"bounding box south/west corner must not exceed north/east",
			nil,
		))
		return
	}

	// Network access defaults on; clients signal offline mode explicitly.
	allowNetwork := true
	if req.AllowNetwork != nil {
		allowNetwork = *req.AllowNetwork
	}

	resp, err := h.service.Recommend(r.Context(), engine.RecommendRequest{
		Lat:          req.Lat,
		Lon:          req.Lon,
		AreaID:       req.AreaID,
		BBox:         req.BBox,
		AllowNetwork: allowNetwork,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: resp,
		Meta: signalWarnings(resp),
	})
}

// ReportOutcome handles POST /v1/outcomes.
func (h *RecommendationHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	updated, err := h.service.RecordOutcome(r.Context(), engine.OutcomeRequest{
		EventID:        req.EventID,
		Cell:           req.Cell,
		PredictedScore: req.PredictedScore,
		ActualEPH:      req.ActualEPH,
		Followed:       req.Followed,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{"weights": updated.Weights},
	})
}

// signalWarnings distills the response's signal provenance into envelope
// meta, so clients can show "data is old" notices without parsing the full
// provenance blocks.
func signalWarnings(resp *engine.RecommendResponse) map[string]any {
	var degraded []string
	if m := resp.POIMeta; m != nil && (m.Stale || m.LastErrorMessage != "") {
		degraded = append(degraded, "poi")
	}
	if m := resp.WeatherMeta; m != nil && (m.Stale || m.LastErrorMessage != "") {
		degraded = append(degraded, "weather")
	}
	if len(degraded) == 0 {
		return nil
	}
	return map[string]any{"degraded_signals": degraded}
}
