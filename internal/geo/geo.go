package geo

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two coordinates in km.
func HaversineKm(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// WithinRadius applies the configured maximum match radius. A radius of zero
// or less disables filtering. The boundary is inclusive: a rider sitting
// exactly at maxKm is eligible.
func WithinRadius(rider, pickup models.Coord, maxKm float64) bool {
	if maxKm <= 0 {
		return true
	}
	return HaversineKm(rider, pickup) <= maxKm
}
