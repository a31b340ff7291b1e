package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

var (
	moscow  = geo.Coordinate{Lat: 55.7558, Lng: 37.6173}
	khimki  = geo.Coordinate{Lat: 55.8970, Lng: 37.4297}
	osrmOne = `{
	  "code": "Ok",
	  "routes": [{
	    "distance": 18250.4, "duration": 1520.2,
	    "geometry": {"type": "LineString", "coordinates": [[37.6173,55.7558],[37.5,55.82],[37.4297,55.897]]},
	    "legs": [{"summary": "Leningradsky", "steps": [
	      {"distance": 9000, "duration": 700, "name": "Tverskaya",
	       "geometry": {"type": "LineString", "coordinates": [[37.6173,55.7558],[37.5,55.82]]},
	       "maneuver": {"type": "depart", "location": [37.6173,55.7558]}},
	      {"distance": 9250.4, "duration": 820.2, "name": "Leningradskoye",
	       "geometry": {"type": "LineString", "coordinates": [[37.5,55.82],[37.4297,55.897]]},
	       "maneuver": {"type": "turn", "modifier": "slight right", "location": [37.5,55.82]}},
	      {"distance": 0, "duration": 0, "name": "",
	       "geometry": {"type": "LineString", "coordinates": [[37.4297,55.897],[37.4297,55.897]]},
	       "maneuver": {"type": "arrive", "location": [37.4297,55.897]}}
	    ]}]
	  }, {
	    "distance": 21000, "duration": 1700,
	    "geometry": {"type": "LineString", "coordinates": [[37.6173,55.7558],[37.4297,55.897]]},
	    "legs": [{"summary": "MKAD", "steps": []}]
	  }]
	}`
)

func newOSRMServer(t *testing.T, status int, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.String())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestOSRM_Routes(t *testing.T) {
	srv, paths := newOSRMServer(t, http.StatusOK, osrmOne)
	provider := NewOSRM(srv.URL+"/", srv.Client())

	routes, err := provider.Routes(context.Background(), Query{
		Origin: moscow, Destination: khimki, TravelMode: ModeDriving, Alternatives: true, Language: "en",
	})
	require.NoError(t, err)
	require.Len(t, routes, 2)

	require.Len(t, *paths, 1)
	assert.True(t, strings.HasPrefix((*paths)[0], "/route/v1/driving/37.617300,55.755800;37.429700,55.897000?"))
	assert.Contains(t, (*paths)[0], "steps=true")
	assert.Contains(t, (*paths)[0], "alternatives=true")

	route := routes[0]
	assert.Equal(t, 18250.4, route.Distance.Meters)
	assert.Equal(t, "Leningradsky", route.Summary)
	require.Len(t, route.Points, 3)
	assert.Equal(t, moscow, route.Origin())
	require.Len(t, route.Steps, 3)
	assert.Equal(t, "Head onto Tverskaya", route.Steps[0].Instruction)
	assert.Equal(t, "Turn slightly right onto Leningradskoye", route.Steps[1].Instruction)
	assert.Equal(t, "turn-slight-right", route.Steps[1].Maneuver)
	assert.Equal(t, geo.Coordinate{Lat: 55.82, Lng: 37.5}, route.Steps[1].StartLocation)
	assert.Equal(t, geo.Coordinate{Lat: 55.897, Lng: 37.4297}, route.Steps[1].EndLocation)
	assert.Equal(t, "You have arrived", route.Steps[2].Instruction)
}

func TestOSRM_RussianInstructions(t *testing.T) {
	assert.Equal(t, "Поверните налево на Арбат",
		osrmInstruction(osrmManeuver{Type: "turn", Modifier: "left"}, "Арбат", "ru"))
	assert.Equal(t, "Продолжайте движение",
		osrmInstruction(osrmManeuver{Type: "continue", Modifier: "straight"}, "", "ru"))
	assert.Equal(t, "Keep right",
		osrmInstruction(osrmManeuver{Type: "fork", Modifier: "right"}, "", "de"))
}

func TestOSRM_Profiles(t *testing.T) {
	assert.Equal(t, "foot", osrmProfile(ModeWalking))
	assert.Equal(t, "bike", osrmProfile(ModeCycling))
	assert.Equal(t, "driving", osrmProfile(ParseTravelMode("spaceship")))
}

func TestOSRM_NoRoute(t *testing.T) {
	srv, _ := newOSRMServer(t, http.StatusBadRequest, `{"code":"NoRoute","message":"Impossible route between points"}`)
	_, err := NewOSRM(srv.URL, srv.Client()).Routes(context.Background(), Query{Origin: moscow, Destination: khimki})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoRoute")
}

func TestValhalla_Routes(t *testing.T) {
	shape := []geo.Coordinate{moscow, {Lat: 55.82, Lng: 37.5}, khimki}
	var got valhallaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/route", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintf(w, `{"trip": {
		  "status": 0,
		  "summary": {"time": 1500, "length": 18.2},
		  "legs": [{"shape": %q, "maneuvers": [
		    {"type": 1, "instruction": "Drive north on Tverskaya.", "length": 9.0, "time": 700, "begin_shape_index": 0, "end_shape_index": 1, "street_names": ["Tverskaya"]},
		    {"type": 9, "instruction": "Bear right onto Leningradskoye.", "length": 9.2, "time": 800, "begin_shape_index": 1, "end_shape_index": 2},
		    {"type": 4, "instruction": "You have arrived.", "length": 0, "time": 0, "begin_shape_index": 2, "end_shape_index": 99}
		  ]}]
		}}`, geo.EncodePolyline(shape, geo.PrecisionValhalla))
	}))
	t.Cleanup(srv.Close)

	routes, err := NewValhalla(srv.URL, srv.Client()).Routes(context.Background(), Query{
		Origin: moscow, Destination: khimki, TravelMode: ModeCycling, Alternatives: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "bicycle", got.Costing)
	assert.Equal(t, 2, got.Alternates)
	require.Len(t, got.Locations, 2)
	assert.Equal(t, moscow.Lng, got.Locations[0].Lon)

	require.Len(t, routes, 1)
	route := routes[0]
	assert.InDelta(t, 18200, route.Distance.Meters, 0.001)
	assert.Equal(t, "Tverskaya", route.Summary)
	require.Len(t, route.Steps, 3)
	assert.Equal(t, "slight-right", route.Steps[1].Maneuver)
	assert.InDelta(t, 55.82, route.Steps[1].StartLocation.Lat, 1e-6)
	assert.InDelta(t, khimki.Lat, route.Steps[2].EndLocation.Lat, 1e-6, "out of range shape index is clamped")
}

func TestNominatim_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "haulnav-test", r.Header.Get("User-Agent"))
		if r.URL.Query().Get("q") == "nowhere" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"display_name":"Red Square, Moscow","lat":"55.7539","lon":"37.6208"}]`))
	}))
	t.Cleanup(srv.Close)

	geocoder := NewNominatim(srv.URL, "haulnav-test", "ru", srv.Client())

	c, err := geocoder.Geocode(context.Background(), "Red Square")
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: 55.7539, Lng: 37.6208}, c)

	_, err = geocoder.Geocode(context.Background(), "nowhere")
	var noResults *ErrNoResults
	assert.ErrorAs(t, err, &noResults)
}

func TestClient_GeocodesAddressWaypoints(t *testing.T) {
	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"55.897","lon":"37.4297"}]`))
	}))
	t.Cleanup(nominatim.Close)
	osrm, paths := newOSRMServer(t, http.StatusOK, osrmOne)

	client := NewClient(NewOSRM(osrm.URL, osrm.Client()), NewNominatim(nominatim.URL, "t", "", nominatim.Client()), logger.NewNop())
	routes, err := client.Fetch(context.Background(), Request{
		Origin:      At(moscow),
		Destination: Address("Khimki, Leningradskaya 1"),
	})
	require.NoError(t, err)
	assert.Len(t, routes, 2)
	assert.Contains(t, (*paths)[0], "37.429700,55.897000")

	assert.Equal(t, "18.3 km", routes[0].Distance.Text)
	assert.Equal(t, "25 min", routes[0].Duration.Text)
	assert.Equal(t, "9.0 km", routes[0].Steps[0].Distance.Text)
}

func TestClient_FailuresBecomeRouteUnavailable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	malformed, _ := newOSRMServer(t, http.StatusOK, `{"code":"Ok","routes":[{"geometry":`)
	empty, _ := newOSRMServer(t, http.StatusOK, `{"code":"Ok","routes":[]}`)
	broken, _ := newOSRMServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)

	cases := map[string]struct {
		provider Provider
		req      Request
	}{
		"network error":     {NewOSRM(closedURL, http.DefaultClient), Request{Origin: At(moscow), Destination: At(khimki)}},
		"malformed body":    {NewOSRM(malformed.URL, malformed.Client()), Request{Origin: At(moscow), Destination: At(khimki)}},
		"no routes":         {NewOSRM(empty.URL, empty.Client()), Request{Origin: At(moscow), Destination: At(khimki)}},
		"http failure":      {NewOSRM(broken.URL, broken.Client()), Request{Origin: At(moscow), Destination: At(khimki)}},
		"missing geocoder":  {NewOSRM(empty.URL, empty.Client()), Request{Origin: Address("Moscow"), Destination: At(khimki)}},
		"empty waypoint":    {NewOSRM(empty.URL, empty.Client()), Request{Origin: At(moscow)}},
		"invalid latitude":  {NewOSRM(empty.URL, empty.Client()), Request{Origin: At(geo.Coordinate{Lat: 91}), Destination: At(khimki)}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(tc.provider, nil, logger.NewNop()).Fetch(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, shared.ErrCodeRouteUnavailable, shared.ErrorCode(err))
		})
	}
}

func TestTextFormatting(t *testing.T) {
	assert.Equal(t, "850 m", DistanceText(850))
	assert.Equal(t, "12.3 km", DistanceText(12340))
	assert.Equal(t, "45 s", DurationText(45))
	assert.Equal(t, "12 min", DurationText(720))
	assert.Equal(t, "1 h 5 min", DurationText(3900))
	assert.Equal(t, "2 h", DurationText(7200))
}

func TestWaypoint(t *testing.T) {
	assert.True(t, Waypoint{}.IsZero())
	assert.True(t, Address("   ").IsZero())
	assert.False(t, At(moscow).IsZero())
	assert.Equal(t, "Tverskaya 1", Address("Tverskaya 1").String())
}
