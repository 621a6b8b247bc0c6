package engine

import (
	"math"
	"sort"

	"ngetem/internal/types"
)

// MaxReasons caps how many explanation strings accompany a recommendation.
const MaxReasons = 3

// Reason strings, one fixed phrase per scoring term. The rain phrase branches
// on the same heavy-rain threshold the scorer uses, so the displayed reason
// always matches the reweighting behavior.
const (
	reasonInternal  = "riwayat penghasilanmu di titik ini bagus"
	reasonRecency   = "baru-baru ini dapat order dari sini"
	reasonPOI       = "banyak tempat ramai (POI) di sekitar"
	reasonTravel    = "jarak tempuh dari posisimu sekarang"
	reasonRainHeavy = "risiko hujan tinggi 3 jam ke depan"
	reasonRainLight = "risiko hujan rendah 3 jam ke depan"
)

// Explain returns up to MaxReasons human-readable reason strings for the
// terms that most influenced the score in either direction. It is a derived
// view over the same Contributions the scorer sums, not an independent model.
func Explain(f types.CellFeatures, w types.Weights) []string {
	contribs := Contributions(f, w)

	order := make([]int, len(contribs))
	for i := range order {
		order[i] = i
	}
	// Stable sort by |contribution| descending keeps scoring order as the
	// tie-break, so equal-magnitude terms explain deterministically.
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(contribs[order[a]].Value) > math.Abs(contribs[order[b]].Value)
	})

	rainHeavy := RainHeavy(clamp(f.RainRiskNext3h, 0, 1))

	reasons := make([]string, 0, MaxReasons)
	for _, idx := range order {
		if len(reasons) == MaxReasons {
			break
		}
		reasons = append(reasons, reasonFor(contribs[idx].Term, rainHeavy))
	}
	return reasons
}

func reasonFor(term string, rainHeavy bool) string {
	switch term {
	case TermInternal:
		return reasonInternal
	case TermRecency:
		return reasonRecency
	case TermPOI:
		return reasonPOI
	case TermTravel:
		return reasonTravel
	case TermRain:
		if rainHeavy {
			return reasonRainHeavy
		}
		return reasonRainLight
	default:
		return term
	}
}
