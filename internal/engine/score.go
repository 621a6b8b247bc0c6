package engine

import (
	"math"

	"ngetem/internal/types"
)

// Contribution is one weighted term of the score. The five contributions sum
// exactly to the score; the explainer ranks them by absolute magnitude.
type Contribution struct {
	Term  string
	Value float64
}

// Term names, in scoring order.
const (
	TermInternal = "internal"
	TermRecency  = "recency"
	TermPOI      = "poi"
	TermTravel   = "travel"
	TermRain     = "rain"
)

// normalizeLog compresses heavy-tailed magnitudes (earnings-per-hour, POI
// counts, travel cost) into comparable ranges. Negative inputs floor to 0.
func normalizeLog(x float64) float64 {
	return math.Log1p(math.Max(x, 0))
}

// Contributions computes the five weighted terms for a feature vector under
// the given base weights, applying the shared weather-adaptive adjustment.
// Both Score and Explain are thin views over this function; keeping one
// implementation guarantees they never drift apart numerically.
func Contributions(f types.CellFeatures, w types.Weights) [5]Contribution {
	rain := clamp(f.RainRiskNext3h, 0, 1)
	adj := AdjustForRain(w, rain)

	return [5]Contribution{
		{Term: TermInternal, Value: adj.Internal * normalizeLog(f.InternalEPH)},
		{Term: TermRecency, Value: adj.Recency * f.RecencyScore},
		{Term: TermPOI, Value: adj.POI * normalizeLog(float64(f.POICount))},
		{Term: TermTravel, Value: adj.Travel * normalizeLog(f.TravelCost)},
		{Term: TermRain, Value: adj.Rain * rain},
	}
}

// Score converts a feature vector into a scalar score under the given
// weights. Unclamped; higher is better. All-zero features yield 0.
func Score(f types.CellFeatures, w types.Weights) float64 {
	var sum float64
	for _, c := range Contributions(f, w) {
		sum += c.Value
	}
	return sum
}
