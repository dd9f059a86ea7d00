package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/units"
)

// GTFSRTFetcher polls a GTFS-Realtime VehiclePositions feed.
type GTFSRTFetcher struct {
	URL    string
	Client httputil.HTTPClient
	// Now stamps ServerTime on decoded reports; defaults to time.Now.
	Now func() time.Time
}

// FetchAllCurrentPositions implements Fetcher.
func (f *GTFSRTFetcher) FetchAllCurrentPositions(ctx context.Context) ([]position.Report, error) {
	body, err := httputil.FetchBytes(ctx, f.Client, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("vehicle positions: %w", err)
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return DecodeVehiclePositions(body, now())
}

// DecodeVehiclePositions converts a VehiclePositions FeedMessage into
// reports. Entities without a position are skipped. The vehicle id is the
// descriptor id, falling back to its label and then the entity id.
func DecodeVehiclePositions(data []byte, receivedAt time.Time) ([]position.Report, error) {
	var feed gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode gtfs-rt feed: %w", err)
	}

	out := make([]position.Report, 0, len(feed.GetEntity()))
	for _, e := range feed.GetEntity() {
		if e.GetIsDeleted() {
			continue
		}
		vp := e.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		pos := vp.GetPosition()

		id := strings.TrimSpace(vp.GetVehicle().GetId())
		if id == "" {
			id = strings.TrimSpace(vp.GetVehicle().GetLabel())
		}
		if id == "" {
			id = e.GetId()
		}

		r := position.Report{
			EntityID:   id,
			Latitude:   float64(pos.GetLatitude()),
			Longitude:  float64(pos.GetLongitude()),
			Speed:      units.FromMPS(float64(pos.GetSpeed())),
			ServerTime: receivedAt,
		}
		if pos.Bearing != nil {
			h := float64(pos.GetBearing())
			r.Heading = &h
		}
		if ts := vp.GetTimestamp(); ts > 0 {
			r.FirmTime = time.Unix(int64(ts), 0).UTC()
		}
		out = append(out, r)
	}
	return out, nil
}
