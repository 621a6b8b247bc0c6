package engine

import (
	"time"

	"ngetem/internal/geo"
	"ngetem/internal/types"
)

// RainWindow is the forecast horizon considered when deriving rain risk.
const RainWindow = 3 * time.Hour

// BuildCellFeatures computes the feature vector for one candidate cell from
// the full trip history, the optional POI-count mapping, the optional weather
// summary, the user's current position, and the active settings.
//
// Missing data never raises: absent POI/weather inputs degrade to neutral
// zeros so the engine stays usable fully offline on pure internal history.
func BuildCellFeatures(
	cell string,
	userLat, userLon float64,
	trips []types.Trip,
	poiByCell map[string]int,
	weather *types.WeatherSummary,
	now time.Time,
	settings types.Settings,
) types.CellFeatures {
	f := types.CellFeatures{
		Cell:      cell,
		Hour:      now.Hour(),
		DayOfWeek: int(now.Weekday()),
	}

	res := settings.PreferredResolution

	// Aggregate matching trip history: trips whose start coordinates re-bin
	// to the target cell at the preferred resolution.
	var (
		earningsSum float64
		hoursSum    float64
		lastEnd     time.Time
	)
	for i := range trips {
		t := &trips[i]
		if !t.HasStart() {
			continue
		}
		if geo.CellToken(*t.StartLat, *t.StartLon, res) != cell {
			continue
		}
		f.InternalCount++
		earningsSum += t.Earnings
		hoursSum += t.DurationHours()
		if t.EndedAt.After(lastEnd) {
			lastEnd = t.EndedAt
		}
	}

	if hoursSum > 0 {
		f.InternalEPH = earningsSum / hoursSum
	}

	// Recency decays with days since the most recent matching trip. No
	// matching trip means days-since is effectively infinite: score 0.
	if f.InternalCount > 0 {
		days := now.Sub(lastEnd).Hours() / 24
		if days < 0 {
			days = 0
		}
		f.RecencyScore = 1 / (1 + days)
	}

	if poiByCell != nil {
		f.POICount = poiByCell[cell]
	}

	f.RainRiskNext3h = rainRisk(weather, now)

	if lat, lon, ok := geo.CellCenter(cell); ok {
		f.TravelKm = geo.HaversineKm(userLat, userLon, lat, lon)
	}
	f.TravelCost = f.TravelKm * settings.CostPerKm

	return f
}

// rainRisk derives the maximum precipitation probability over [now, now+3h]
// from the hourly series, scaled to [0, 1]. Absent weather or an empty window
// yields 0.
func rainRisk(weather *types.WeatherSummary, now time.Time) float64 {
	if weather == nil {
		return 0
	}
	end := now.Add(RainWindow)
	maxProb := 0.0
	for _, h := range weather.Hourly {
		if h.Time.Before(now) || h.Time.After(end) {
			continue
		}
		if h.PrecipitationProbability > maxProb {
			maxProb = h.PrecipitationProbability
		}
	}
	return clamp(maxProb/100, 0, 1)
}
