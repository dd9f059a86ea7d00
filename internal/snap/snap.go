// Package snap aligns a raw GPS trace to road geometry through an external
// routing service. Requests are chunked and issued sequentially; any failure
// degrades to the raw coordinates.
package snap

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

var logf = monitoring.Component("snap")

// Defaults for the adapter.
const (
	DefaultChunkSize         = 100
	DefaultInterRequestDelay = 100 * time.Millisecond
)

// Geometry is a road-aligned coordinate sequence with no timestamps.
type Geometry []geo.LatLng

// Service snaps one chunk of [lat,lng] coordinates and returns [lat,lng]
// coordinates. Implementations own the service's native axis order.
type Service interface {
	Snap(ctx context.Context, coords []geo.LatLng) ([]geo.LatLng, error)
}

// Adapter batches a trace into chunks and stitches the snapped results.
type Adapter struct {
	Service           Service
	Clock             timeutil.Clock
	ChunkSize         int
	InterRequestDelay time.Duration
}

// NewAdapter returns an adapter with the default chunk size and delay.
func NewAdapter(svc Service, clock timeutil.Clock) *Adapter {
	return &Adapter{
		Service:           svc,
		Clock:             clock,
		ChunkSize:         DefaultChunkSize,
		InterRequestDelay: DefaultInterRequestDelay,
	}
}

// Chunks splits points into runs of at most size points where each run
// starts with the previous run's last point.
func Chunks(points []geo.LatLng, size int) [][]geo.LatLng {
	if size < 2 {
		size = 2
	}
	if len(points) == 0 {
		return nil
	}
	if len(points) <= size {
		return [][]geo.LatLng{points}
	}
	var out [][]geo.LatLng
	for start := 0; start < len(points)-1; start += size - 1 {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		out = append(out, points[start:end])
	}
	return out
}

// Snap returns the snapped geometry for coords. It never returns an empty
// geometry for non-empty input: on any failure it returns a copy of coords.
func (a *Adapter) Snap(ctx context.Context, coords []geo.LatLng) Geometry {
	raw := append(Geometry(nil), coords...)
	if len(coords) == 0 || a.Service == nil {
		return raw
	}
	clock := a.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	size := a.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}

	chunks := Chunks(coords, size)
	out := make(Geometry, 0, len(coords))
	for i, chunk := range chunks {
		if i > 0 && a.InterRequestDelay > 0 {
			clock.Sleep(a.InterRequestDelay)
		}
		if err := ctx.Err(); err != nil {
			logf("cancelled after %d/%d chunks, using raw track: %v", i, len(chunks), err)
			return raw
		}
		got, err := a.Service.Snap(ctx, chunk)
		if err != nil {
			logf("chunk %d/%d failed, using raw track: %v", i+1, len(chunks), err)
			return raw
		}
		if len(got) == 0 {
			logf("chunk %d/%d returned no geometry, using raw track", i+1, len(chunks))
			return raw
		}
		if len(out) > 0 && got[0] == out[len(out)-1] {
			got = got[1:]
		}
		out = append(out, got...)
	}
	return out
}

// SnapAsync runs Snap in its own goroutine and hands the result to done.
func (a *Adapter) SnapAsync(ctx context.Context, coords []geo.LatLng, done func(Geometry)) {
	go func() {
		done(a.Snap(ctx, coords))
	}()
}

// SyncedIndex maps raw-track index i onto a geometry of geomLen points by
// length ratio, clamped to the geometry. It assumes constant speed along
// the track, so apparent speed distorts where snapping adds many points.
func SyncedIndex(i, trackLen, geomLen int) int {
	if geomLen <= 0 {
		return 0
	}
	if trackLen <= 0 || i <= 0 {
		return 0
	}
	idx := int(math.Floor(float64(i) / float64(trackLen) * float64(geomLen)))
	if idx > geomLen-1 {
		idx = geomLen - 1
	}
	return idx
}
