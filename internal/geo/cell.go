// Package geo provides the spatial primitives for the recommendation engine:
// S2-based cell indexing at a configurable resolution, great-circle distance,
// and point-to-cell binning. Everything here is pure and deterministic; the
// engine and the heatmap both depend on that.
package geo

import "github.com/golang/geo/s2"

// Resolution bounds for cell indexing. The resolution is the S2 cell level;
// level 16 cells are roughly 600 m across, which matches a "waiting spot"
// in dense urban areas.
const (
	MinResolution     = 8
	MaxResolution     = 20
	DefaultResolution = 16
)

// ClampResolution forces a resolution into the supported range.
func ClampResolution(res int) int {
	if res < MinResolution {
		return MinResolution
	}
	if res > MaxResolution {
		return MaxResolution
	}
	return res
}

// CellToken maps a coordinate to its cell identifier at the given resolution.
// Same input always yields the same token.
func CellToken(lat, lon float64, res int) string {
	ll := s2.LatLngFromDegrees(lat, lon)
	return s2.CellIDFromLatLng(ll).Parent(ClampResolution(res)).ToToken()
}

// CellCenter returns the centroid coordinate of a cell token.
// Invalid tokens return (0, 0, false).
func CellCenter(token string) (lat, lon float64, ok bool) {
	id := s2.CellIDFromToken(token)
	if !id.IsValid() {
		return 0, 0, false
	}
	ll := id.LatLng()
	return ll.Lat.Degrees(), ll.Lng.Degrees(), true
}
