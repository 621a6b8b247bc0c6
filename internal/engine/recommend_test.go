package engine

import (
	"log/slog"
	"testing"
	"time"

	"ngetem/internal/geo"
	"ngetem/internal/types"
)

// stubRand returns a fixed value from every Float64 draw.
type stubRand struct{ v float64 }

func (s stubRand) Float64() float64 { return s.v }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRecommendTopCellsEmpty(t *testing.T) {
	r := NewRecommender(stubRand{0.5}, discardLogger())

	got := r.RecommendTopCells(RecommendInput{
		Settings: types.DefaultSettings(),
		Now:      time.Now().UTC(),
	})
	if len(got) != 0 {
		t.Errorf("empty candidates yielded %d recommendations", len(got))
	}
}

func TestRecommendTopCellsRanksAndCaps(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	userLat, userLon := -6.2, 106.8
	settings := types.DefaultSettings()
	settings.ExplorationRate = 0 // keep ranking deterministic

	// Five candidates; give one strong history so it must rank first.
	candidates := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		candidates = append(candidates, geo.CellToken(userLat+float64(i)*0.01, userLon, 16))
	}
	best := candidates[0]
	trips := []types.Trip{
		tripAt(userLat, userLon, 60000, time.Hour, now.Add(-6*time.Hour)),
		tripAt(userLat, userLon, 55000, time.Hour, now.Add(-30*time.Hour)),
	}

	r := NewRecommender(stubRand{0.99}, discardLogger())
	got := r.RecommendTopCells(RecommendInput{
		UserLat:    userLat,
		UserLon:    userLon,
		Candidates: candidates,
		Trips:      trips,
		Settings:   settings,
		Now:        now,
	})

	if len(got) != TopK {
		t.Fatalf("len = %d, want %d", len(got), TopK)
	}
	if got[0].Cell != best {
		t.Errorf("top cell = %q, want %q", got[0].Cell, best)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d: %v > %v", i, got[i].Score, got[i-1].Score)
		}
	}
	for _, rec := range got {
		if len(rec.Reasons) == 0 || len(rec.Reasons) > MaxReasons {
			t.Errorf("cell %q has %d reasons", rec.Cell, len(rec.Reasons))
		}
		if rec.Features.Cell != rec.Cell {
			t.Errorf("features cell %q does not match %q", rec.Features.Cell, rec.Cell)
		}
	}
}

func TestExplorationBonus(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	userLat, userLon := -6.2, 106.8
	cell := geo.CellToken(userLat, userLon, 16)
	settings := types.DefaultSettings()
	settings.ExplorationRate = 0.08

	// No internal history, dense POIs: the exploration precondition holds.
	input := RecommendInput{
		UserLat:    userLat,
		UserLon:    userLon,
		Candidates: []string{cell},
		POIByCell:  map[string]int{cell: 8},
		Settings:   settings,
		Now:        now,
	}

	// Draw below the rate: bonus applies.
	withBonus := NewRecommender(stubRand{0.01}, discardLogger()).RecommendTopCells(input)
	// Draw above the rate: no bonus.
	without := NewRecommender(stubRand{0.99}, discardLogger()).RecommendTopCells(input)

	diff := withBonus[0].Score - without[0].Score
	if diff < ExplorationBonus-1e-9 || diff > ExplorationBonus+1e-9 {
		t.Errorf("score difference = %v, want %v", diff, ExplorationBonus)
	}
}

func TestExplorationSkippedWithHistory(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	userLat, userLon := -6.2, 106.8
	cell := geo.CellToken(userLat, userLon, 16)
	settings := types.DefaultSettings()

	trips := []types.Trip{
		tripAt(userLat, userLon, 30000, time.Hour, now.Add(-2*time.Hour)),
		tripAt(userLat, userLon, 30000, time.Hour, now.Add(-26*time.Hour)),
	}

	input := RecommendInput{
		UserLat:    userLat,
		UserLon:    userLon,
		Candidates: []string{cell},
		Trips:      trips,
		POIByCell:  map[string]int{cell: 8},
		Settings:   settings,
		Now:        now,
	}

	// Even an always-explore draw must not add the bonus when the cell has
	// more than one matching trip.
	a := NewRecommender(stubRand{0.0}, discardLogger()).RecommendTopCells(input)
	b := NewRecommender(stubRand{0.99}, discardLogger()).RecommendTopCells(input)
	if a[0].Score != b[0].Score {
		t.Errorf("exploration applied despite history: %v vs %v", a[0].Score, b[0].Score)
	}
}

func TestExplorationSkippedWithSparsePOI(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	cell := geo.CellToken(-6.2, 106.8, 16)
	settings := types.DefaultSettings()

	input := RecommendInput{
		UserLat:    -6.2,
		UserLon:    106.8,
		Candidates: []string{cell},
		POIByCell:  map[string]int{cell: 5}, // below the density floor
		Settings:   settings,
		Now:        now,
	}

	a := NewRecommender(stubRand{0.0}, discardLogger()).RecommendTopCells(input)
	b := NewRecommender(stubRand{0.99}, discardLogger()).RecommendTopCells(input)
	if a[0].Score != b[0].Score {
		t.Errorf("exploration applied despite sparse POIs: %v vs %v", a[0].Score, b[0].Score)
	}
}

func TestExplorationNilRandSafe(t *testing.T) {
	cell := geo.CellToken(-6.2, 106.8, 16)
	r := NewRecommender(nil, discardLogger())

	got := r.RecommendTopCells(RecommendInput{
		UserLat:    -6.2,
		UserLon:    106.8,
		Candidates: []string{cell},
		POIByCell:  map[string]int{cell: 10},
		Settings:   types.DefaultSettings(),
		Now:        time.Now().UTC(),
	})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}
