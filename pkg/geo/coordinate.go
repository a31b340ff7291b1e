// Package geo holds the coordinate type and great-circle helpers shared by the
// navigation, tracking and routing packages.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

var validate = validator.New()

// NewCoordinate creates a coordinate and checks its ranges
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate reports whether latitude and longitude are within range
func (c Coordinate) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid coordinate %s: %w", c, err)
	}
	return nil
}

// Point converts to an orb point (lng, lat order)
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// FromPoint converts an orb point back to a coordinate
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

// LineString converts an ordered coordinate list to an orb line string
func LineString(coords []Coordinate) orb.LineString {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		ls = append(ls, c.Point())
	}
	return ls
}

// IsZero reports whether the coordinate is unset
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// String formats the coordinate as "lat,lng"
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// ParseCoord parses a "lat,lng" pair
func ParseCoord(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: expected \"lat,lng\"", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}

	return NewCoordinate(lat, lng)
}
