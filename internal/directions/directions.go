// Package directions acquires routes from an external routing service and
// reduces every failure to one recoverable "route unavailable" outcome.
package directions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// TravelMode selects the routing profile
type TravelMode string

const (
	ModeDriving TravelMode = "driving"
	ModeWalking TravelMode = "walking"
	ModeCycling TravelMode = "cycling"
)

// ParseTravelMode defaults to driving
func ParseTravelMode(s string) TravelMode {
	switch TravelMode(strings.ToLower(s)) {
	case ModeWalking:
		return ModeWalking
	case ModeCycling:
		return ModeCycling
	}
	return ModeDriving
}

// Waypoint is either a coordinate or a free-form address
type Waypoint struct {
	Coords  *geo.Coordinate `json:"coords,omitempty"`
	Address string          `json:"address,omitempty"`
}

// At is a waypoint at a known coordinate
func At(c geo.Coordinate) Waypoint {
	return Waypoint{Coords: &c}
}

// Address is a waypoint to be geocoded
func Address(addr string) Waypoint {
	return Waypoint{Address: addr}
}

// IsZero reports an empty waypoint
func (w Waypoint) IsZero() bool {
	return w.Coords == nil && strings.TrimSpace(w.Address) == ""
}

func (w Waypoint) String() string {
	if w.Coords != nil {
		return w.Coords.String()
	}
	return w.Address
}

// Request is what the carrier asked for. It is kept by the Planner so a
// retry never needs the addresses again.
type Request struct {
	Origin       Waypoint   `json:"origin"`
	Destination  Waypoint   `json:"destination"`
	TravelMode   TravelMode `json:"travel_mode"`
	Alternatives bool       `json:"alternatives"`
	Language     string     `json:"language,omitempty"`
}

// Query is a request with both ends resolved to coordinates
type Query struct {
	Origin       geo.Coordinate
	Destination  geo.Coordinate
	TravelMode   TravelMode
	Alternatives bool
	Language     string
}

// Provider is an external routing backend. Routes come back in the
// backend's preference order; the first is the default.
type Provider interface {
	Name() string
	Routes(ctx context.Context, q Query) ([]navigation.Route, error)
}

// Geocoder resolves an address to a coordinate
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

var (
	errNoRoute       = errors.New("no route found")
	errNoGeocoder    = errors.New("address waypoint without geocoder")
	errEmptyWaypoint = errors.New("empty waypoint")
)

// Client resolves waypoints and fetches routes
type Client struct {
	provider Provider
	geocoder Geocoder
	logger   *logger.Logger
}

// NewClient creates a directions client. geocoder may be nil when every
// request carries coordinates.
func NewClient(provider Provider, geocoder Geocoder, log *logger.Logger) *Client {
	return &Client{
		provider: provider,
		geocoder: geocoder,
		logger:   log.WithComponent("directions"),
	}
}

// Fetch returns at least one route. Every failure, whatever its cause,
// comes back as ROUTE_UNAVAILABLE.
func (c *Client) Fetch(ctx context.Context, req Request) ([]navigation.Route, error) {
	start := time.Now()
	routes, err := c.fetch(ctx, req)
	if err != nil {
		c.logger.Warn("Route unavailable",
			zap.String("provider", c.provider.Name()),
			zap.String("origin", req.Origin.String()),
			zap.String("destination", req.Destination.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, shared.ErrRouteUnavailable(err)
	}

	c.logger.Debug("Routes fetched",
		zap.String("provider", c.provider.Name()),
		zap.Int("routes", len(routes)),
		zap.Duration("duration", time.Since(start)))
	return routes, nil
}

func (c *Client) fetch(ctx context.Context, req Request) ([]navigation.Route, error) {
	origin, err := c.resolve(ctx, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	destination, err := c.resolve(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	mode := req.TravelMode
	if mode == "" {
		mode = ModeDriving
	}
	routes, err := c.provider.Routes(ctx, Query{
		Origin:       origin,
		Destination:  destination,
		TravelMode:   mode,
		Alternatives: req.Alternatives,
		Language:     req.Language,
	})
	if err != nil {
		return nil, err
	}

	valid := routes[:0]
	for _, r := range routes {
		if !r.IsEmpty() {
			fillText(&r)
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, errNoRoute
	}
	return valid, nil
}

func (c *Client) resolve(ctx context.Context, w Waypoint) (geo.Coordinate, error) {
	if w.Coords != nil {
		return *w.Coords, w.Coords.Validate()
	}
	if strings.TrimSpace(w.Address) == "" {
		return geo.Coordinate{}, errEmptyWaypoint
	}
	if c.geocoder == nil {
		return geo.Coordinate{}, errNoGeocoder
	}
	return c.geocoder.Geocode(ctx, w.Address)
}

// fillText adds display text the provider did not supply
func fillText(r *navigation.Route) {
	if r.Distance.Text == "" {
		r.Distance.Text = DistanceText(r.Distance.Meters)
	}
	if r.Duration.Text == "" {
		r.Duration.Text = DurationText(r.Duration.Seconds)
	}
	for i := range r.Steps {
		s := &r.Steps[i]
		if s.Distance.Text == "" {
			s.Distance.Text = DistanceText(s.Distance.Meters)
		}
		if s.Duration.Text == "" {
			s.Duration.Text = DurationText(s.Duration.Seconds)
		}
	}
}

// DistanceText renders "850 m" or "12.3 km"
func DistanceText(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// DurationText renders "45 s", "12 min" or "1 h 5 min"
func DurationText(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Minute)
	if seconds < 60 {
		return fmt.Sprintf("%.0f s", seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours == 0 {
		return fmt.Sprintf("%d min", minutes)
	}
	if minutes == 0 {
		return fmt.Sprintf("%d h", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, minutes)
}

// httpError describes an unexpected backend response
func httpError(provider string, resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return oops.
		In("directions").
		With("provider", provider).
		With("status", resp.StatusCode).
		Errorf("%s returned %d: %s", provider, resp.StatusCode, snippet)
}
