package domain

import "math"

const (
	earthRadiusKm       = 6371.0
	averageCourierSpeed = 30.0 // km/h
)

type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// HaversineKm returns the great-circle distance between a and b in
// kilometres, rounded to two decimals.
func HaversineKm(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return math.Round(earthRadiusKm*c*100) / 100
}

// EstimateMinutes converts a distance into whole minutes at courier speed.
func EstimateMinutes(distanceKm float64) int {
	return int(math.Ceil(distanceKm / averageCourierSpeed * 60))
}
