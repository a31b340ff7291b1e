package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/danghamo/haulnav/pkg/geo"
)

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// ErrNoResults is returned when an address cannot be geocoded
type ErrNoResults struct {
	Query string
}

func (e *ErrNoResults) Error() string {
	return fmt.Sprintf("no results found for query: %s", e.Query)
}

// Nominatim geocodes addresses against an OpenStreetMap Nominatim server
type Nominatim struct {
	baseURL   string
	userAgent string
	language  string
	http      *http.Client
}

// NewNominatim creates a geocoder. Nominatim's usage policy requires a
// descriptive user agent.
func NewNominatim(baseURL, userAgent, language string, httpClient *http.Client) *Nominatim {
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		language:  language,
		http:      httpClient,
	}
}

// Geocode implements Geocoder with the best match only
func (n *Nominatim) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	params := url.Values{
		"q":      {address},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if n.language != "" {
		params.Set("accept-language", n.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return geo.Coordinate{}, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return geo.Coordinate{}, oops.In("geocoder").Wrapf(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return geo.Coordinate{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return geo.Coordinate{}, httpError("nominatim", resp, raw)
	}

	var results []nominatimResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return geo.Coordinate{}, oops.In("geocoder").Wrapf(err, "malformed response")
	}
	if len(results) == 0 {
		return geo.Coordinate{}, &ErrNoResults{Query: address}
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Coordinate{}, oops.In("geocoder").Wrapf(err, "malformed latitude")
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Coordinate{}, oops.In("geocoder").Wrapf(err, "malformed longitude")
	}
	return geo.NewCoordinate(lat, lng)
}
