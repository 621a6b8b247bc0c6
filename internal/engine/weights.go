// Package engine implements the waiting-spot recommendation core: per-cell
// feature extraction from trip history and external signals, weighted linear
// scoring with weather-adaptive reweighting, explanation of per-term
// contributions, candidate ranking with exploration, and the online weight
// nudge that closes the feedback loop after an observed outcome.
package engine

import (
	"math"

	"ngetem/internal/types"
)

// Weather-adaptive reweighting constants. At or above RainHeavyThreshold the
// scorer favors POI-dense (indoor-adjacent) cells and penalizes travel
// distance more harshly.
const (
	RainHeavyThreshold = 0.6
	rainPOIBoost       = 1.2
	rainTravelBoost    = 1.3
)

// Online weight-update constants. The ratio clamp bounds the influence of any
// single outcome; the learning rate scales the clamped ratio into a delta.
// Worst-case per-update movement of the internal weight is
// LearningRate * RatioClamp = 0.01.
const (
	LearningRate = 0.05
	RatioClamp   = 0.2
)

// Absolute weight bounds. The per-update delta clamp alone does not stop
// cumulative drift: a long run of extreme outcomes could push a weight
// arbitrarily far, even flipping the sign of a cost term. Each weight is
// therefore clamped to a sane range after every update. This is a deliberate
// behavior change over the delta-only clamping that preceded it.
const (
	internalWeightMin, internalWeightMax = 0.0, 3.0
	recencyWeightMin, recencyWeightMax   = 0.0, 2.0
	poiWeightMin, poiWeightMax           = 0.0, 1.5
	travelWeightMin, travelWeightMax     = -2.0, 0.0
	rainWeightMin, rainWeightMax         = -1.0, 0.0
)

// RainHeavy reports whether the rain risk crosses the heavy-rain threshold
// used for both reweighting and the explainer's reason text.
func RainHeavy(rainRisk float64) bool {
	return rainRisk >= RainHeavyThreshold
}

// AdjustForRain returns the effective weight vector for the given rain risk.
// Below the heavy-rain threshold the base weights are returned unchanged.
// This is the single shared adjustment consumed by both the scorer and the
// explainer, so the two can never disagree.
func AdjustForRain(w types.Weights, rainRisk float64) types.Weights {
	if !RainHeavy(rainRisk) {
		return w
	}
	w.POI *= rainPOIBoost
	w.Travel *= rainTravelBoost
	return w
}

// ApplyOutcome nudges the weight vector toward consistency with an observed
// outcome: the realized earnings-per-hour of a completed job versus the score
// that was predicted for the chosen cell at commitment time.
//
// The predicted score is floored at 1 to avoid division explosion when it was
// zero or negative; the relative error is clamped to ±RatioClamp so a single
// outlier outcome cannot move the weights far. Internal history moves fastest,
// the cost terms (travel, rain) move oppositely and more conservatively.
//
// This is a gradient-free online nudge, not a convergent learner.
func ApplyOutcome(w types.Weights, predictedScore, actualEPH float64) types.Weights {
	safePred := math.Max(predictedScore, 1)
	ratio := (actualEPH - safePred) / safePred
	ratio = clamp(ratio, -RatioClamp, RatioClamp)
	delta := ratio * LearningRate

	w.Internal += delta
	w.Recency += delta / 2
	w.POI += delta / 3
	w.Travel -= delta / 2
	w.Rain -= delta / 3

	return clampWeights(w)
}

// clampWeights bounds each weight to its sane range, preventing cumulative
// drift from flipping the sign of a term.
func clampWeights(w types.Weights) types.Weights {
	w.Internal = clamp(w.Internal, internalWeightMin, internalWeightMax)
	w.Recency = clamp(w.Recency, recencyWeightMin, recencyWeightMax)
	w.POI = clamp(w.POI, poiWeightMin, poiWeightMax)
	w.Travel = clamp(w.Travel, travelWeightMin, travelWeightMax)
	w.Rain = clamp(w.Rain, rainWeightMin, rainWeightMax)
	return w
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
