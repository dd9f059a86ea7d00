package source

import (
	"context"
	"net/http"
	"strings"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/position"
)

// RESTFetcher polls GET {BaseURL}/api/positions on a Traccar-style server.
type RESTFetcher struct {
	BaseURL string
	Header  http.Header
	Client  httputil.HTTPClient
}

// FetchAllCurrentPositions implements Fetcher.
func (f *RESTFetcher) FetchAllCurrentPositions(ctx context.Context) ([]position.Report, error) {
	header := f.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	body, err := httputil.FetchBytes(ctx, f.Client, strings.TrimRight(f.BaseURL, "/")+"/api/positions", header)
	if err != nil {
		return nil, err
	}
	return DecodeTraccarPositions(body)
}
