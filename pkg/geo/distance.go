package geo

import (
	"github.com/paulmach/orb/geo"
)

// Distance returns the haversine great-circle distance in meters
func Distance(a, b Coordinate) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point())
}

// DistanceKm returns the haversine great-circle distance in kilometers
func DistanceKm(a, b Coordinate) float64 {
	return Distance(a, b) / 1000
}

// Bearing returns the initial bearing from a to b in degrees
func Bearing(a, b Coordinate) float64 {
	return geo.Bearing(a.Point(), b.Point())
}

// Offset moves c by meters along bearing (degrees)
func Offset(c Coordinate, bearing, meters float64) Coordinate {
	return FromPoint(geo.PointAtBearingAndDistance(c.Point(), bearing, meters))
}

// PathLength returns the haversine length of a polyline in meters
func PathLength(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}
	return geo.LengthHaversine(LineString(coords))
}
