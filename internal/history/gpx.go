package history

import (
	"errors"
	"fmt"
	"io"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
)

// ErrNoTrackPoints is returned for GPX documents without track points.
var ErrNoTrackPoints = errors.New("gpx: no track points")

// ImportGPX converts every track point of a GPX document into reports for
// entityID. Speed (km/h) and heading are derived from consecutive timed
// points since GPX 1.1 carries neither.
func ImportGPX(r io.Reader, entityID string) ([]position.Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var out []position.Report
	for _, track := range doc.Tracks {
		for _, segment := range track.Segments {
			var prev *position.Report
			for _, p := range segment.Points {
				rep := position.Report{
					EntityID:  entityID,
					Latitude:  p.Latitude,
					Longitude: p.Longitude,
					FirmTime:  p.Timestamp.UTC(),
				}
				if prev != nil {
					deriveMotion(&rep, *prev)
				}
				out = append(out, rep)
				prev = &out[len(out)-1]
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTrackPoints
	}
	return out, nil
}

func deriveMotion(r *position.Report, prev position.Report) {
	if r.FirmTime.IsZero() || prev.FirmTime.IsZero() {
		return
	}
	dt := r.FirmTime.Sub(prev.FirmTime).Hours()
	if dt > 0 {
		r.Speed = geo.HaversineKm(prev.LatLng(), r.LatLng()) / dt
	}
	if deg, ok := geo.Bearing(prev.LatLng(), r.LatLng()); ok {
		r.Heading = &deg
	}
}
