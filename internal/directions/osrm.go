package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/samber/oops"

	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
)

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier"`
	Location orb.Point `json:"location"`
}

type osrmStep struct {
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
	Name     string            `json:"name"`
	Geometry *geojson.Geometry `json:"geometry"`
	Maneuver osrmManeuver      `json:"maneuver"`
}

type osrmRoute struct {
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
	Geometry *geojson.Geometry `json:"geometry"`
	Legs     []struct {
		Summary string     `json:"summary"`
		Steps   []osrmStep `json:"steps"`
	} `json:"legs"`
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

// OSRM talks to an OSRM /route/v1 endpoint
type OSRM struct {
	baseURL string
	http    *http.Client
}

// NewOSRM creates an OSRM provider
func NewOSRM(baseURL string, httpClient *http.Client) *OSRM {
	return &OSRM{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Name implements Provider
func (o *OSRM) Name() string { return "osrm" }

func osrmProfile(mode TravelMode) string {
	switch mode {
	case ModeWalking:
		return "foot"
	case ModeCycling:
		return "bike"
	default:
		return "driving"
	}
}

// Routes implements Provider
func (o *OSRM) Routes(ctx context.Context, q Query) ([]navigation.Route, error) {
	params := url.Values{
		"overview":     {"full"},
		"geometries":   {"geojson"},
		"steps":        {"true"},
		"alternatives": {fmt.Sprintf("%t", q.Alternatives)},
	}
	endpoint := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?%s",
		o.baseURL, osrmProfile(q.TravelMode),
		q.Origin.Lng, q.Origin.Lat, q.Destination.Lng, q.Destination.Lat,
		params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, oops.In("directions").With("provider", o.Name()).Wrapf(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed osrmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, httpError(o.Name(), resp, raw)
		}
		return nil, oops.In("directions").With("provider", o.Name()).Wrapf(err, "malformed response")
	}
	// OSRM reports NoRoute and friends with a 400 and a JSON body
	if parsed.Code != "Ok" {
		return nil, oops.
			In("directions").
			With("provider", o.Name()).
			With("code", parsed.Code).
			Errorf("osrm: %s %s", parsed.Code, parsed.Message)
	}

	lang := q.Language
	routes := make([]navigation.Route, 0, len(parsed.Routes))
	for _, r := range parsed.Routes {
		route, err := convertOSRMRoute(r, lang)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func lineCoordinates(g *geojson.Geometry) ([]geo.Coordinate, error) {
	if g == nil {
		return nil, nil
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("expected LineString geometry, got %s", g.Type)
	}
	coords := make([]geo.Coordinate, len(ls))
	for i, p := range ls {
		coords[i] = geo.FromPoint(p)
	}
	return coords, nil
}

func convertOSRMRoute(r osrmRoute, lang string) (navigation.Route, error) {
	points, err := lineCoordinates(r.Geometry)
	if err != nil {
		return navigation.Route{}, oops.In("directions").Wrapf(err, "malformed geometry")
	}

	route := navigation.Route{
		Distance: navigation.Distance{Meters: r.Distance},
		Duration: navigation.Duration{Seconds: r.Duration},
		Points:   points,
	}

	var summaries []string
	for _, leg := range r.Legs {
		if leg.Summary != "" {
			summaries = append(summaries, leg.Summary)
		}
		for _, s := range leg.Steps {
			start := geo.FromPoint(s.Maneuver.Location)
			end := start
			if stepPoints, err := lineCoordinates(s.Geometry); err == nil && len(stepPoints) > 0 {
				end = stepPoints[len(stepPoints)-1]
			}
			route.Steps = append(route.Steps, navigation.RouteStep{
				Instruction:   osrmInstruction(s.Maneuver, s.Name, lang),
				Distance:      navigation.Distance{Meters: s.Distance},
				Duration:      navigation.Duration{Seconds: s.Duration},
				StartLocation: start,
				EndLocation:   end,
				Maneuver:      osrmManeuverName(s.Maneuver),
			})
		}
	}
	route.Summary = strings.Join(summaries, "; ")
	return route, nil
}

func osrmManeuverName(m osrmManeuver) string {
	if m.Modifier == "" {
		return m.Type
	}
	return m.Type + "-" + strings.ReplaceAll(m.Modifier, " ", "-")
}

type instructionWords struct {
	depart, arrive, turn, keep, continueOn, roundabout, onto string
	modifiers                                                map[string]string
}

var instructionLexicon = map[string]instructionWords{
	"en": {
		depart: "Head", arrive: "You have arrived", turn: "Turn", keep: "Keep",
		continueOn: "Continue", roundabout: "Enter the roundabout", onto: "onto",
		modifiers: map[string]string{
			"left": "left", "right": "right", "slight left": "slightly left",
			"slight right": "slightly right", "sharp left": "sharp left",
			"sharp right": "sharp right", "straight": "straight", "uturn": "around",
		},
	},
	"ru": {
		depart: "Начните движение", arrive: "Вы прибыли", turn: "Поверните", keep: "Держитесь",
		continueOn: "Продолжайте движение", roundabout: "Въезжайте на круговое движение", onto: "на",
		modifiers: map[string]string{
			"left": "налево", "right": "направо", "slight left": "плавно налево",
			"slight right": "плавно направо", "sharp left": "резко налево",
			"sharp right": "резко направо", "straight": "прямо", "uturn": "на разворот",
		},
	},
}

// osrmInstruction builds text for a maneuver; OSRM itself returns none
func osrmInstruction(m osrmManeuver, street, lang string) string {
	words, ok := instructionLexicon[lang]
	if !ok {
		words = instructionLexicon["en"]
	}
	modifier := words.modifiers[m.Modifier]

	var verb string
	switch m.Type {
	case "depart":
		verb = words.depart
		modifier = ""
	case "arrive":
		return words.arrive
	case "roundabout", "rotary", "roundabout turn":
		verb = words.roundabout
		modifier = ""
	case "continue", "new name", "notification":
		verb = words.continueOn
		if m.Modifier == "straight" {
			modifier = ""
		}
	case "fork", "merge", "on ramp", "off ramp":
		verb = words.keep
	default:
		verb = words.turn
	}

	text := verb
	if modifier != "" {
		text += " " + modifier
	}
	if street != "" {
		text += " " + words.onto + " " + street
	}
	return text
}
