package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ngetem/internal/geo"
	"ngetem/internal/types"
)

// MaxCandidates caps how many cells a single recommendation pass evaluates.
// Candidates are the densest cells (trips + POIs) within the request bbox.
const MaxCandidates = 12

// defaultBBoxRadiusDeg is the half-size, in degrees, of the bounding box
// derived around the user when the request does not supply one. Roughly 2 km
// of latitude.
const defaultBBoxRadiusDeg = 0.02

// POIProvider supplies the POI signal, normally through the signal cache.
type POIProvider interface {
	GetPOI(ctx context.Context, bbox types.BoundingBox, opts types.SignalOptions) (*types.POIPayload, types.SignalMeta, error)
}

// WeatherProvider supplies the weather signal, normally through the signal cache.
type WeatherProvider interface {
	GetWeather(ctx context.Context, lat, lon float64, opts types.SignalOptions) (*types.WeatherSummary, types.SignalMeta, error)
}

// Metrics is the telemetry surface the service emits to.
type Metrics interface {
	RecommendLatency(ctx context.Context, area string, d time.Duration)
	UpstreamFailure(ctx context.Context, signal string)
	WeightUpdate(ctx context.Context)
}

// RecommendRequest is one recommendation cycle's input.
type RecommendRequest struct {
	Lat          float64
	Lon          float64
	AreaID       string
	BBox         *types.BoundingBox
	AllowNetwork bool
	ForceRefresh bool
}

// RecommendResponse carries the ranked cells plus the signal provenance the
// UI needs to render data-age and last-error notices.
type RecommendResponse struct {
	EventID         string                 `json:"event_id,omitempty"`
	Recommendations []types.Recommendation `json:"recommendations"`
	POIMeta         *types.SignalMeta      `json:"poi_meta,omitempty"`
	WeatherMeta     *types.SignalMeta      `json:"weather_meta,omitempty"`
}

// OutcomeRequest reports a completed job back into the loop.
type OutcomeRequest struct {
	EventID        string
	Cell           string
	PredictedScore float64
	ActualEPH      float64
	Followed       bool
}

// Service orchestrates one recommendation cycle end to end: load history and
// settings, assemble external signals through the cache, generate candidate
// cells, rank them, and log the batch for the audit trail. It also closes the
// learning loop by applying observed outcomes to the persisted weights.
type Service struct {
	trips       types.TripRepository
	settings    types.SettingsRepository
	events      types.EventRepository
	poi         POIProvider
	weather     WeatherProvider
	recommender *Recommender
	metrics     Metrics
	logger      *slog.Logger
	clock       types.Clock
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Trips       types.TripRepository
	Settings    types.SettingsRepository
	Events      types.EventRepository
	POI         POIProvider
	Weather     WeatherProvider
	Recommender *Recommender
	Metrics     Metrics
	Logger      *slog.Logger
	Clock       types.Clock
}

// NewService creates a Service with the given configuration.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Service{
		trips:       cfg.Trips,
		settings:    cfg.Settings,
		events:      cfg.Events,
		poi:         cfg.POI,
		weather:     cfg.Weather,
		recommender: cfg.Recommender,
		metrics:     cfg.Metrics,
		logger:      logger,
		clock:       clock,
	}
}

// Recommend runs one full recommendation cycle. Signal failures degrade to
// neutral inputs rather than failing the cycle; only settings or trip store
// errors propagate. An area with no candidates yields an empty, non-error
// response, which the caller renders as a "not enough data" prompt.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (*RecommendResponse, error) {
	start := s.clock.Now()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	trips, err := s.trips.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trips: %w", err)
	}

	bbox := s.resolveBBox(req)
	opts := types.SignalOptions{
		AllowNetwork: req.AllowNetwork,
		ForceRefresh: req.ForceRefresh,
		AllowStale:   true,
	}

	// Assemble external signals concurrently. Each fetch degrades to a nil
	// signal on failure so the recommender falls back to internal history.
	var (
		poiPayload  *types.POIPayload
		poiMeta     *types.SignalMeta
		weatherSum  *types.WeatherSummary
		weatherMeta *types.SignalMeta
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		payload, meta, ferr := s.poi.GetPOI(gCtx, bbox, opts)
		if ferr != nil {
			s.logger.WarnContext(gCtx, "poi signal unavailable, degrading",
				"area_id", req.AreaID,
				"error", ferr,
			)
			if s.metrics != nil {
				s.metrics.UpstreamFailure(gCtx, "poi")
			}
			return nil
		}
		poiPayload, poiMeta = payload, &meta
		return nil
	})
	g.Go(func() error {
		summary, meta, ferr := s.weather.GetWeather(gCtx, req.Lat, req.Lon, opts)
		if ferr != nil {
			s.logger.WarnContext(gCtx, "weather signal unavailable, degrading",
				"area_id", req.AreaID,
				"error", ferr,
			)
			if s.metrics != nil {
				s.metrics.UpstreamFailure(gCtx, "weather")
			}
			return nil
		}
		weatherSum, weatherMeta = summary, &meta
		return nil
	})
	// Fetch closures never return errors; Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := geo.ClampResolution(settings.PreferredResolution)
	poiCounts := poiCountsByCell(poiPayload, res)
	candidates := CandidateCells(trips, poiCounts, bbox, res)

	recs := s.recommender.RecommendTopCells(RecommendInput{
		UserLat:    req.Lat,
		UserLon:    req.Lon,
		AreaID:     req.AreaID,
		Candidates: candidates,
		Trips:      trips,
		POIByCell:  poiCounts,
		Weather:    weatherSum,
		Settings:   *settings,
		Now:        s.clock.Now(),
	})

	resp := &RecommendResponse{
		Recommendations: recs,
		POIMeta:         poiMeta,
		WeatherMeta:     weatherMeta,
	}

	if len(recs) > 0 {
		event := &types.RecommendationEvent{
			ID:        "rec_" + uuid.NewString(),
			CreatedAt: s.clock.Now(),
			Lat:       req.Lat,
			Lon:       req.Lon,
			AreaID:    req.AreaID,
			Items:     toItems(recs),
		}
		if err := s.events.Create(ctx, event); err != nil {
			// The audit trail is best-effort; a failed write must not cost
			// the driver their recommendations.
			s.logger.ErrorContext(ctx, "failed to log recommendation event",
				"area_id", req.AreaID,
				"error", err,
			)
		} else {
			resp.EventID = event.ID
		}
	}

	if s.metrics != nil {
		s.metrics.RecommendLatency(ctx, req.AreaID, s.clock.Now().Sub(start))
	}
	return resp, nil
}

// RecordOutcome patches the audit trail with the driver's choice and nudges
// the persisted weights toward the realized earnings-per-hour.
func (s *Service) RecordOutcome(ctx context.Context, req OutcomeRequest) (*types.Settings, error) {
	if req.EventID != "" {
		if err := s.events.RecordOutcome(ctx, req.EventID, req.Cell, req.Followed); err != nil {
			return nil, fmt.Errorf("recording outcome on event %s: %w", req.EventID, err)
		}
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	next := ApplyOutcome(settings.Weights, req.PredictedScore, req.ActualEPH)
	updated, err := s.settings.UpdateWeights(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("persisting updated weights: %w", err)
	}

	s.logger.InfoContext(ctx, "weights updated from outcome",
		"event_id", req.EventID,
		"predicted_score", req.PredictedScore,
		"actual_eph", req.ActualEPH,
		"w_internal", updated.Weights.Internal,
	)
	if s.metrics != nil {
		s.metrics.WeightUpdate(ctx)
	}
	return updated, nil
}

// CandidateCells selects the cells worth scoring: every cell inside the bbox
// that has trip history or POI density, ranked by combined density
// (trip count + POI count) descending, capped at MaxCandidates. Exported
// because the signal refresher reuses it to decide which areas stay warm.
func CandidateCells(trips []types.Trip, poiByCell map[string]int, bbox types.BoundingBox, res int) []string {
	density := make(map[string]float64)

	for i := range trips {
		t := &trips[i]
		if !t.HasStart() || !bbox.Contains(*t.StartLat, *t.StartLon) {
			continue
		}
		density[geo.CellToken(*t.StartLat, *t.StartLon, res)]++
	}
	for cell, count := range poiByCell {
		lat, lon, ok := geo.CellCenter(cell)
		if !ok || !bbox.Contains(lat, lon) {
			continue
		}
		density[cell] += float64(count)
	}

	cells := make([]string, 0, len(density))
	for cell := range density {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool {
		if density[cells[i]] != density[cells[j]] {
			return density[cells[i]] > density[cells[j]]
		}
		return cells[i] < cells[j]
	})
	if len(cells) > MaxCandidates {
		cells = cells[:MaxCandidates]
	}
	return cells
}

func (s *Service) resolveBBox(req RecommendRequest) types.BoundingBox {
	if req.BBox != nil {
		return *req.BBox
	}
	return types.BoundingBox{
		South: req.Lat - defaultBBoxRadiusDeg,
		West:  req.Lon - defaultBBoxRadiusDeg,
		North: req.Lat + defaultBBoxRadiusDeg,
		East:  req.Lon + defaultBBoxRadiusDeg,
	}
}

func poiCountsByCell(payload *types.POIPayload, res int) map[string]int {
	if payload == nil || len(payload.Points) == 0 {
		return nil
	}
	points := make([]geo.Point, 0, len(payload.Points))
	for _, p := range payload.Points {
		points = append(points, geo.Point{Lat: p.Lat, Lon: p.Lon})
	}
	return geo.CountByCell(points, res)
}

func toItems(recs []types.Recommendation) []types.RecommendationItem {
	items := make([]types.RecommendationItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, types.RecommendationItem{
			Cell:    r.Cell,
			Score:   r.Score,
			Reasons: r.Reasons,
		})
	}
	return items
}
