package snap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
)

// ErrNoMatch is returned when OSRM could not match the trace.
var ErrNoMatch = errors.New("osrm: no match")

// OSRMClient snaps coordinates with the OSRM match service.
type OSRMClient struct {
	BaseURL string
	Profile string
	Client  httputil.HTTPClient
}

type osrmMatchResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Matchings []struct {
		Geometry geojson.Geometry `json:"geometry"`
	} `json:"matchings"`
}

// MatchURL builds the match request for coords. OSRM takes lng,lat pairs.
func (c *OSRMClient) MatchURL(coords []geo.LatLng) string {
	pairs := make([]string, len(coords))
	for i, p := range coords {
		pairs[i] = strconv.FormatFloat(p.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
	}
	profile := c.Profile
	if profile == "" {
		profile = "driving"
	}
	q := url.Values{}
	q.Set("geometries", "geojson")
	q.Set("overview", "full")
	return fmt.Sprintf("%s/match/v1/%s/%s?%s",
		strings.TrimRight(c.BaseURL, "/"), profile, strings.Join(pairs, ";"), q.Encode())
}

// Snap implements Service.
func (c *OSRMClient) Snap(ctx context.Context, coords []geo.LatLng) ([]geo.LatLng, error) {
	var resp osrmMatchResponse
	if err := httputil.FetchJSON(ctx, c.Client, c.MatchURL(coords), nil, &resp); err != nil {
		return nil, fmt.Errorf("osrm match: %w", err)
	}
	if resp.Code != "Ok" {
		return nil, fmt.Errorf("%w: %s %s", ErrNoMatch, resp.Code, resp.Message)
	}

	var out []geo.LatLng
	for _, m := range resp.Matchings {
		ls, ok := m.Geometry.Coordinates.(orb.LineString)
		if !ok {
			return nil, fmt.Errorf("osrm match: unexpected geometry %q", m.Geometry.Type)
		}
		for _, p := range ls {
			out = append(out, geo.LatLng{Lat: p.Lat(), Lng: p.Lon()})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoMatch
	}
	return out, nil
}
