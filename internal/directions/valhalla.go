package directions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
)

type valhallaLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Type string  `json:"type"`
}

type valhallaRequest struct {
	Locations        []valhallaLocation `json:"locations"`
	Costing          string             `json:"costing"`
	Units            string             `json:"units"`
	Language         string             `json:"language,omitempty"`
	Alternates       int                `json:"alternates,omitempty"`
	DirectionsOption map[string]string  `json:"directions_options,omitempty"`
}

type valhallaManeuver struct {
	Type            int      `json:"type"`
	Instruction     string   `json:"instruction"`
	Length          float64  `json:"length"`
	Time            float64  `json:"time"`
	BeginShapeIndex int      `json:"begin_shape_index"`
	EndShapeIndex   int      `json:"end_shape_index"`
	StreetNames     []string `json:"street_names"`
}

type valhallaLeg struct {
	Maneuvers []valhallaManeuver `json:"maneuvers"`
	Shape     string             `json:"shape"`
}

type valhallaTrip struct {
	Legs    []valhallaLeg `json:"legs"`
	Summary struct {
		Time   float64 `json:"time"`
		Length float64 `json:"length"`
	} `json:"summary"`
	Status        int    `json:"status"`
	StatusMessage string `json:"status_message"`
}

type valhallaResponse struct {
	Trip       valhallaTrip `json:"trip"`
	Alternates []struct {
		Trip valhallaTrip `json:"trip"`
	} `json:"alternates"`
}

// Valhalla talks to a Valhalla /route endpoint
type Valhalla struct {
	baseURL string
	http    *http.Client
}

// NewValhalla creates a Valhalla provider
func NewValhalla(baseURL string, httpClient *http.Client) *Valhalla {
	return &Valhalla{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Name implements Provider
func (v *Valhalla) Name() string { return "valhalla" }

func valhallaCosting(mode TravelMode) string {
	switch mode {
	case ModeWalking:
		return "pedestrian"
	case ModeCycling:
		return "bicycle"
	default:
		return "auto"
	}
}

// Routes implements Provider
func (v *Valhalla) Routes(ctx context.Context, q Query) ([]navigation.Route, error) {
	body := valhallaRequest{
		Locations: []valhallaLocation{
			{Lat: q.Origin.Lat, Lon: q.Origin.Lng, Type: "break"},
			{Lat: q.Destination.Lat, Lon: q.Destination.Lng, Type: "break"},
		},
		Costing:  valhallaCosting(q.TravelMode),
		Units:    "kilometers",
		Language: q.Language,
	}
	if q.Alternatives {
		body.Alternates = 2
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/route", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, oops.In("directions").With("provider", v.Name()).Wrapf(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(v.Name(), resp, raw)
	}

	var parsed valhallaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, oops.In("directions").With("provider", v.Name()).Wrapf(err, "malformed response")
	}

	trips := []valhallaTrip{parsed.Trip}
	for _, alt := range parsed.Alternates {
		trips = append(trips, alt.Trip)
	}

	routes := make([]navigation.Route, 0, len(trips))
	for _, trip := range trips {
		if len(trip.Legs) == 0 {
			continue
		}
		route, err := convertValhallaTrip(trip)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func convertValhallaTrip(trip valhallaTrip) (navigation.Route, error) {
	route := navigation.Route{
		Distance: navigation.Distance{Meters: trip.Summary.Length * 1000},
		Duration: navigation.Duration{Seconds: trip.Summary.Time},
	}

	var streets []string
	for li, leg := range trip.Legs {
		shape, err := geo.DecodePolyline(leg.Shape, geo.PrecisionValhalla)
		if err != nil {
			return navigation.Route{}, oops.In("directions").With("leg", li).Wrapf(err, "malformed shape")
		}
		route.Points = append(route.Points, shape...)

		for _, m := range leg.Maneuvers {
			if len(shape) == 0 {
				break
			}
			route.Steps = append(route.Steps, navigation.RouteStep{
				Instruction:   m.Instruction,
				Distance:      navigation.Distance{Meters: m.Length * 1000},
				Duration:      navigation.Duration{Seconds: m.Time},
				StartLocation: shape[clampIndex(m.BeginShapeIndex, len(shape))],
				EndLocation:   shape[clampIndex(m.EndShapeIndex, len(shape))],
				Maneuver:      valhallaManeuverName(m.Type),
			})
			if len(m.StreetNames) > 0 && len(streets) < 2 {
				streets = append(streets, m.StreetNames[0])
			}
		}
	}
	route.Summary = strings.Join(streets, ", ")
	return route, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// valhallaManeuverName maps the numeric maneuver type to a stable name
func valhallaManeuverName(t int) string {
	switch t {
	case 1, 2, 3:
		return "depart"
	case 4, 5, 6:
		return "arrive"
	case 7, 8, 22:
		return "straight"
	case 9:
		return "slight-right"
	case 10:
		return "turn-right"
	case 11:
		return "sharp-right"
	case 12, 13:
		return "uturn"
	case 14:
		return "sharp-left"
	case 15:
		return "turn-left"
	case 16:
		return "slight-left"
	case 18, 20, 23:
		return "keep-right"
	case 17, 19, 24:
		return "keep-left"
	case 26, 27:
		return "roundabout"
	case 25:
		return "merge"
	default:
		return fmt.Sprintf("type-%d", t)
	}
}
