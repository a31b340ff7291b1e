// Package navigation is the live tracking state machine: it matches device
// fixes against a route, announces steps, detects proximity to the
// destination and drives the map and speech sinks.
package navigation

import (
	"github.com/danghamo/haulnav/pkg/geo"
)

// Distance is a length with its display text
type Distance struct {
	Text   string  `json:"text"`
	Meters float64 `json:"meters"`
}

// Duration is a time span with its display text
type Duration struct {
	Text    string  `json:"text"`
	Seconds float64 `json:"seconds"`
}

// RouteStep is one turn-by-turn instruction. Immutable once fetched.
type RouteStep struct {
	Instruction   string         `json:"instruction"`
	Distance      Distance       `json:"distance"`
	Duration      Duration       `json:"duration"`
	StartLocation geo.Coordinate `json:"start_location"`
	EndLocation   geo.Coordinate `json:"end_location"`
	Maneuver      string         `json:"maneuver,omitempty"`
}

// Route is an ordered path with its steps, as returned by a directions provider
type Route struct {
	Summary           string           `json:"summary,omitempty"`
	Distance          Distance         `json:"distance"`
	Duration          Duration         `json:"duration"`
	DurationInTraffic *Duration        `json:"duration_in_traffic,omitempty"`
	Points            []geo.Coordinate `json:"points"`
	Steps             []RouteStep      `json:"steps"`
}

// Origin returns the first point of the route
func (r *Route) Origin() geo.Coordinate {
	if len(r.Points) > 0 {
		return r.Points[0]
	}
	if len(r.Steps) > 0 {
		return r.Steps[0].StartLocation
	}
	return geo.Coordinate{}
}

// Destination returns the last point of the route
func (r *Route) Destination() geo.Coordinate {
	if len(r.Points) > 0 {
		return r.Points[len(r.Points)-1]
	}
	if len(r.Steps) > 0 {
		return r.Steps[len(r.Steps)-1].EndLocation
	}
	return geo.Coordinate{}
}

// IsEmpty reports whether the route has no geometry at all
func (r *Route) IsEmpty() bool {
	return r == nil || (len(r.Points) == 0 && len(r.Steps) == 0)
}
