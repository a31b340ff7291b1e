package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danghamo/haulnav/internal/directions"
	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// coord is a "lat,lng" string in scenario files
type coord geo.Coordinate

func (c *coord) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := geo.ParseCoord(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = coord(parsed)
	return nil
}

func coords(in []coord) []geo.Coordinate {
	out := make([]geo.Coordinate, len(in))
	for i, c := range in {
		out[i] = geo.Coordinate(c)
	}
	return out
}

// StepSpec is one instruction of a scripted route
type StepSpec struct {
	Instruction string  `yaml:"instruction"`
	DistanceM   float64 `yaml:"distance_m"`
	DurationS   float64 `yaml:"duration_s"`
	Start       coord   `yaml:"start"`
	End         coord   `yaml:"end"`
	Maneuver    string  `yaml:"maneuver"`
}

// RouteSpec is either scripted (points and steps) or fetched from OSRM
// between origin and destination
type RouteSpec struct {
	Polyline    string     `yaml:"polyline"`
	Points      []coord    `yaml:"points"`
	Steps       []StepSpec `yaml:"steps"`
	Origin      *coord     `yaml:"origin"`
	Destination *coord     `yaml:"destination"`
	OSRMURL     string     `yaml:"osrm_url"`
	TravelMode  string     `yaml:"travel_mode"`
}

// Scenario drives one simulated navigation
type Scenario struct {
	DealID      string        `yaml:"deal_id"`
	Locale      string        `yaml:"locale"`
	FollowMode  bool          `yaml:"follow_mode"`
	Interval    time.Duration `yaml:"interval"`
	SpeedKmh    float64       `yaml:"speed_kmh"`
	StepMeters  float64       `yaml:"step_meters"`
	CancelAfter time.Duration `yaml:"cancel_after"`
	Route       RouteSpec     `yaml:"route"`
	// Trail replaces the densified route when set
	Trail []coord `yaml:"trail"`
}

// LoadScenario reads a YAML scenario and fills defaults
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario and fills defaults
func ParseScenario(data []byte) (*Scenario, error) {
	sc := Scenario{
		DealID:     "sim-deal",
		Locale:     navigation.DefaultLocale,
		FollowMode: true,
		Interval:   200 * time.Millisecond,
		SpeedKmh:   50,
		StepMeters: 25,
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	r := sc.Route
	scripted := len(r.Steps) > 0
	fetched := r.Origin != nil && r.Destination != nil
	if !scripted && !fetched {
		return nil, fmt.Errorf("scenario route needs steps or origin and destination")
	}
	if fetched && r.OSRMURL == "" {
		sc.Route.OSRMURL = "https://router.project-osrm.org"
	}
	return &sc, nil
}

// BuildRoute returns the scripted route or fetches one from OSRM
func (sc *Scenario) BuildRoute(ctx context.Context, log *logger.Logger) (*navigation.Route, error) {
	r := sc.Route
	if len(r.Steps) == 0 {
		client := directions.NewClient(
			directions.NewOSRM(r.OSRMURL, &http.Client{Timeout: 15 * time.Second}),
			nil,
			log,
		)
		routes, err := client.Fetch(ctx, directions.Request{
			Origin:      directions.At(geo.Coordinate(*r.Origin)),
			Destination: directions.At(geo.Coordinate(*r.Destination)),
			TravelMode:  directions.ParseTravelMode(r.TravelMode),
			Language:    sc.Locale,
		})
		if err != nil {
			return nil, err
		}
		return &routes[0], nil
	}

	route := &navigation.Route{Points: coords(r.Points)}
	if r.Polyline != "" {
		points, err := geo.DecodePolyline(r.Polyline, 5)
		if err != nil {
			return nil, fmt.Errorf("invalid route polyline: %w", err)
		}
		route.Points = points
	}

	for _, s := range r.Steps {
		route.Steps = append(route.Steps, navigation.RouteStep{
			Instruction:   s.Instruction,
			Distance:      navigation.Distance{Meters: s.DistanceM, Text: directions.DistanceText(s.DistanceM)},
			Duration:      navigation.Duration{Seconds: s.DurationS, Text: directions.DurationText(s.DurationS)},
			StartLocation: geo.Coordinate(s.Start),
			EndLocation:   geo.Coordinate(s.End),
			Maneuver:      s.Maneuver,
		})
		route.Distance.Meters += s.DistanceM
		route.Duration.Seconds += s.DurationS
	}

	if len(route.Points) == 0 {
		for _, st := range route.Steps {
			route.Points = append(route.Points, st.StartLocation)
		}
		route.Points = append(route.Points, route.Steps[len(route.Steps)-1].EndLocation)
	}
	route.Distance.Text = directions.DistanceText(route.Distance.Meters)
	route.Duration.Text = directions.DurationText(route.Duration.Seconds)
	return route, nil
}

// Fixes is the position feed: the trail as given, or the route densified
// at the scenario speed
func (sc *Scenario) Fixes(route *navigation.Route, start time.Time) []geolocation.Fix {
	if len(sc.Trail) == 0 {
		return geolocation.Densify(route.Points, sc.StepMeters, sc.SpeedKmh, start)
	}

	trail := coords(sc.Trail)
	fixes := make([]geolocation.Fix, len(trail))
	for i, c := range trail {
		fixes[i] = geolocation.Fix{
			Coords:    c,
			SpeedKmh:  sc.SpeedKmh,
			Timestamp: start.Add(time.Duration(i) * sc.Interval),
		}
		if i > 0 {
			fixes[i].HeadingDeg = math.Mod(geo.Bearing(trail[i-1], c)+360, 360)
		}
	}
	return fixes
}
