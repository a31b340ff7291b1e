// Package mapview renders navigation state for a remote map client. The
// route is sent as GeoJSON once per route change; position updates only
// send a JSON merge patch of the marker and viewport.
package mapview

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// Notification methods sent to the map client
const (
	MethodRoute    = "navigation.map.route"
	MethodPatch    = "navigation.map.patch"
	MethodRecenter = "navigation.map.recenter"
)

// Publisher delivers map messages to the client
type Publisher interface {
	Publish(method string, params any)
}

// View is the client-side viewport state kept in sync with merge patches
type View struct {
	Marker *geo.Coordinate `json:"marker,omitempty"`
	Center *geo.Coordinate `json:"center,omitempty"`
	Follow bool            `json:"follow"`
}

// RouteMessage carries a full route draw
type RouteMessage struct {
	Route *geojson.FeatureCollection `json:"route"`
	View  View                       `json:"view"`
}

// Renderer implements navigation.MapRenderer on top of a Publisher
type Renderer struct {
	pub    Publisher
	logger *logger.Logger

	mu    sync.Mutex
	route *navigation.Route
	view  View
	doc   []byte
}

// NewRenderer creates a renderer that has drawn nothing yet
func NewRenderer(pub Publisher, log *logger.Logger) *Renderer {
	return &Renderer{pub: pub, logger: log.WithComponent("mapview")}
}

// Render draws the route when it changed and moves the marker otherwise
func (r *Renderer) Render(route *navigation.Route, position *geo.Coordinate, followMode bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.view
	next.Follow = followMode
	if position != nil {
		pos := *position
		next.Marker = &pos
		if followMode {
			next.Center = &pos
		}
	}

	if route != r.route {
		r.route = route
		r.commit(next)
		r.pub.Publish(MethodRoute, RouteMessage{Route: RouteFeatures(route), View: next})
		return
	}

	r.patch(next)
}

// Recenter moves the viewport to position without touching follow mode
func (r *Renderer) Recenter(position geo.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.view
	next.Center = &position
	r.commit(next)
	r.pub.Publish(MethodRecenter, map[string]any{"center": position})
}

// View returns the current viewport state
func (r *Renderer) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

func (r *Renderer) patch(next View) {
	doc, err := json.Marshal(next)
	if err != nil {
		r.logger.Error("Failed to encode map view", zap.Error(err))
		return
	}
	if r.doc == nil {
		r.doc = []byte("{}")
	}

	patch, err := jsonpatch.CreateMergePatch(r.doc, doc)
	if err != nil {
		r.logger.Error("Failed to create map patch", zap.Error(err))
		return
	}
	r.view, r.doc = next, doc
	if string(patch) == "{}" {
		return
	}
	r.pub.Publish(MethodPatch, json.RawMessage(patch))
}

func (r *Renderer) commit(next View) {
	r.view = next
	doc, err := json.Marshal(next)
	if err != nil {
		r.logger.Error("Failed to encode map view", zap.Error(err))
		return
	}
	r.doc = doc
}

// ApplyPatch applies a map patch to a client view document
func ApplyPatch(view View, patch []byte) (View, error) {
	doc, err := json.Marshal(view)
	if err != nil {
		return View{}, err
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return View{}, fmt.Errorf("apply map patch: %w", err)
	}
	var out View
	if err := json.Unmarshal(merged, &out); err != nil {
		return View{}, err
	}
	return out, nil
}

// RouteFeatures builds the GeoJSON for a route: the line, start and end
// markers and one marker per step
func RouteFeatures(route *navigation.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if route.IsEmpty() {
		return fc
	}

	line := geojson.NewFeature(geo.LineString(route.Points))
	line.Properties["kind"] = "route"
	line.Properties["distance_m"] = route.Distance.Meters
	line.Properties["duration_s"] = route.Duration.Seconds
	if route.Summary != "" {
		line.Properties["summary"] = route.Summary
	}
	fc.Append(line)

	fc.Append(marker(route.Origin().Point(), "start"))
	fc.Append(marker(route.Destination().Point(), "end"))

	for i, step := range route.Steps {
		f := marker(step.StartLocation.Point(), "step")
		f.Properties["index"] = i
		f.Properties["instruction"] = step.Instruction
		if step.Maneuver != "" {
			f.Properties["maneuver"] = step.Maneuver
		}
		fc.Append(f)
	}
	return fc
}

func marker(p orb.Point, kind string) *geojson.Feature {
	f := geojson.NewFeature(p)
	f.Properties["kind"] = kind
	return f
}
