package gps

import (
	"math"

	"github.com/starfail/geotrack/pkg"
)

// EarthRadiusM is the mean Earth radius used for great-circle distances
const EarthRadiusM = 6371000.0

// Distance returns the haversine great-circle distance between a and b in meters
func Distance(a, b pkg.Coordinate) float64 {
	return haversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// clockwise from north in [0, 360)
func Bearing(a, b pkg.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
