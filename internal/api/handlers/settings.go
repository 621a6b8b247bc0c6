package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ngetem/internal/core"
	"ngetem/internal/geo"
	"ngetem/internal/types"
)

// SettingsRepo defines the data access contract for settings operations.
type SettingsRepo interface {
	Get(ctx context.Context) (*types.Settings, error)
	Update(ctx context.Context, s *types.Settings) error
}

// UpdateSettingsRequest is the request body for PUT /v1/settings. All fields
// are optional; absent fields keep their current values. Weights are not
// editable here -- they belong to the outcome-driven updater.
type UpdateSettingsRequest struct {
	CostPerKm           *float64 `json:"cost_per_km,omitempty" validate:"omitempty,gt=0"`
	AvgSpeedKmh         *float64 `json:"avg_speed_kmh,omitempty" validate:"omitempty,gt=0,lte=120"`
	ExplorationRate     *float64 `json:"exploration_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	PreferredResolution *int     `json:"preferred_resolution,omitempty"`
}

// SettingsHandler serves the singleton settings record.
type SettingsHandler struct {
	repo      SettingsRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(repo SettingsRepo, v *core.Validator, l *slog.Logger) *SettingsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SettingsHandler{
		repo:      repo,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts settings routes on the provided chi.Router.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
	})
}

// Get handles GET /v1/settings. The repository seeds defaults on first read,
// so this never 404s.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.Get(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: settings})
}

// Update handles PUT /v1/settings with merge semantics over the current
// record.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.PreferredResolution != nil {
		if res := *req.PreferredResolution; res < geo.MinResolution || res > geo.MaxResolution {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationSettingsRange,
				"preferred_resolution out of range",
				nil,
			).WithDetails(map[string]any{
				"min": geo.MinResolution,
				"max": geo.MaxResolution,
			}))
			return
		}
	}

	settings, err := h.repo.Get(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.CostPerKm != nil {
		settings.CostPerKm = *req.CostPerKm
	}
	if req.AvgSpeedKmh != nil {
		settings.AvgSpeedKmh = *req.AvgSpeedKmh
	}
	if req.ExplorationRate != nil {
		settings.ExplorationRate = *req.ExplorationRate
	}
	if req.PreferredResolution != nil {
		settings.PreferredResolution = *req.PreferredResolution
	}

	if err := h.repo.Update(r.Context(), settings); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("settings updated",
		"cost_per_km", settings.CostPerKm,
		"avg_speed_kmh", settings.AvgSpeedKmh,
		"exploration_rate", settings.ExplorationRate,
		"preferred_resolution", settings.PreferredResolution,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: settings})
}
