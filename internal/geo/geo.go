package geo

import (
	"math"

	"github.com/BearBump/CourierHub/internal/models"
)

const (
	// EarthRadiusKm is Earth's radius for the Haversine calculation.
	EarthRadiusKm = 6371.0

	// minutesPerKm is the rough courier speed heuristic used for ETAs.
	minutesPerKm = 3.0
)

// DistanceKm calculates the great-circle distance between two coordinates
// in kilometers using the Haversine formula. Either coordinate being the
// (0,0) "unknown" sentinel, or out of range, yields 0. Never errors.
func DistanceKm(a, b models.Coordinate) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	if !valid(a) || !valid(b) {
		return 0
	}

	const degToRad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// RoundKm rounds a distance to one decimal for display. Internal math
// keeps full precision.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// EstimatedMinutes is a rough UI figure, not a scheduling guarantee.
func EstimatedMinutes(distanceKm float64) int {
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm * minutesPerKm))
}

func valid(c models.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
