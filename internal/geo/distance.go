// Package geo provides spherical distance helpers and H3 cell mapping.
package geo

import (
	"github.com/golang/geo/s2"

	"github.com/roadpulse/roadpulse/internal/model"
)

const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b model.LatLng) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// DistanceToPath returns the smallest distance in meters from pt to any
// vertex of path. Vertices are dense enough in provider flow records that
// vertex distance is a good stand-in for true segment distance.
func DistanceToPath(pt model.LatLng, path []model.LatLng) float64 {
	best := -1.0
	for _, v := range path {
		d := Distance(pt, v)
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}
