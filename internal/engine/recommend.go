package engine

import (
	"log/slog"
	"sort"
	"time"

	"ngetem/internal/types"
)

// Exploration constants. A cell with almost no internal history but a dense
// POI cluster occasionally gets a score bonus so the ranking does not starve
// cold-start discovery by only reinforcing cells with existing trips.
// The trigger thresholds have no documented derivation; they are preserved
// as defaults, not tuned values.
const (
	ExplorationBonus       = 0.25
	explorationMaxInternal = 1
	explorationMinPOI      = 6
)

// TopK is the number of recommendations returned per request.
const TopK = 3

// RandSource is the randomness needed by the recommender: a single uniform
// draw in [0, 1) per exploration decision. Isolated behind an interface so
// tests can force both branches deterministically; the scoring math itself
// stays pure.
type RandSource interface {
	Float64() float64
}

// RecommendInput carries everything one ranking pass needs. Candidates is the
// caller-selected set of cells worth evaluating; an empty set is valid and
// yields an empty result.
type RecommendInput struct {
	UserLat    float64
	UserLon    float64
	AreaID     string
	Candidates []string
	Trips      []types.Trip
	POIByCell  map[string]int
	Weather    *types.WeatherSummary
	Settings   types.Settings
	Now        time.Time
}

// Recommender ranks candidate cells. It is stateless apart from its injected
// randomness source; one instance is safe to share across requests as long as
// the RandSource is.
type Recommender struct {
	rand   RandSource
	logger *slog.Logger
}

// NewRecommender creates a Recommender with the given randomness source.
func NewRecommender(rand RandSource, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{rand: rand, logger: logger}
}

// RecommendTopCells builds features, scores, and explains every candidate
// cell, applies the exploration bonus where it triggers, and returns the top
// TopK by score descending.
func (r *Recommender) RecommendTopCells(in RecommendInput) []types.Recommendation {
	if len(in.Candidates) == 0 {
		return nil
	}

	recs := make([]types.Recommendation, 0, len(in.Candidates))
	for _, cell := range in.Candidates {
		f := BuildCellFeatures(cell, in.UserLat, in.UserLon, in.Trips, in.POIByCell, in.Weather, in.Now, in.Settings)
		score := Score(f, in.Settings.Weights)

		if r.shouldExplore(f, in.Settings.ExplorationRate) {
			score += ExplorationBonus
			r.logger.Debug("exploration bonus applied",
				"cell", cell,
				"poi_count", f.POICount,
				"internal_count", f.InternalCount,
			)
		}

		recs = append(recs, types.Recommendation{
			Cell:     cell,
			Score:    score,
			Reasons:  Explain(f, in.Settings.Weights),
			Features: f,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > TopK {
		recs = recs[:TopK]
	}
	return recs
}

// shouldExplore draws once per under-explored, POI-dense candidate.
func (r *Recommender) shouldExplore(f types.CellFeatures, rate float64) bool {
	if f.InternalCount > explorationMaxInternal || f.POICount < explorationMinPOI {
		return false
	}
	if rate <= 0 || r.rand == nil {
		return false
	}
	return r.rand.Float64() < rate
}
