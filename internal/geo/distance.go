package geo

import "github.com/golang/geo/s2"

// Earth's mean radius.
const (
	EarthRadiusKm     = 6371.0
	EarthRadiusMeters = 6371000.0
)

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers. S2's angular distance on the unit sphere is equivalent to the
// haversine formula and numerically stable for small distances.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}
