// Package trail keeps a bounded, time-windowed motion history per entity and
// derives the distance travelled inside that window.
package trail

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// Point is one retained trail sample.
type Point struct {
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
	CapturedAtMillis int64   `json:"capturedAtMillis"`
}

// LatLng returns the point's coordinate.
func (p Point) LatLng() geo.LatLng {
	return geo.LatLng{Lat: p.Latitude, Lng: p.Longitude}
}

// Config bounds every trail.
type Config struct {
	MaxPoints int           // N: newest points retained
	Window    time.Duration // W: maximum age relative to the latest processed time
}

// DefaultConfig returns N=60, W=5m.
func DefaultConfig() Config {
	return Config{MaxPoints: 60, Window: 5 * time.Minute}
}

type entityTrail struct {
	points     []Point
	latestMsec int64
}

// Tracker owns the trail of every entity seen during a session.
type Tracker struct {
	mu     sync.RWMutex
	cfg    Config
	trails map[string]*entityTrail
}

// NewTracker creates a tracker; zero config fields take the defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Tracker{cfg: cfg, trails: make(map[string]*entityTrail)}
}

// Config returns the tracker bounds.
func (t *Tracker) Config() Config { return t.cfg }

// Ingest appends p to the entity's trail in arrival order, then evicts every
// point older than now-W and caps the trail to the newest N points. Points
// are never re-sorted; an out-of-order source yields an out-of-order trail.
func (t *Tracker) Ingest(entityID string, p Point, nowMillis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.trails[entityID]
	if !ok {
		tr = &entityTrail{}
		t.trails[entityID] = tr
	}
	if nowMillis > tr.latestMsec {
		tr.latestMsec = nowMillis
	}
	tr.points = append(tr.points, p)

	cutoff := tr.latestMsec - t.cfg.Window.Milliseconds()
	kept := tr.points[:0]
	for _, pt := range tr.points {
		if pt.CapturedAtMillis >= cutoff {
			kept = append(kept, pt)
		}
	}
	if over := len(kept) - t.cfg.MaxPoints; over > 0 {
		kept = kept[over:]
	}
	// Copy so the backing array does not grow without bound.
	tr.points = append(make([]Point, 0, len(kept)+1), kept...)
}

// RecentDistanceKm sums the great-circle distance over consecutive trail
// points. It is recomputed on every call; trails hold at most N points.
func (t *Tracker) RecentDistanceKm(entityID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.trails[entityID]
	if !ok || len(tr.points) < 2 {
		return 0
	}
	segments := make([]float64, len(tr.points)-1)
	for i := 1; i < len(tr.points); i++ {
		segments[i-1] = geo.HaversineKm(tr.points[i-1].LatLng(), tr.points[i].LatLng())
	}
	return floats.Sum(segments)
}

// Trail returns a copy of the entity's trail; empty for unknown entities.
func (t *Tracker) Trail(entityID string) []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.trails[entityID]
	if !ok {
		return []Point{}
	}
	out := make([]Point, len(tr.points))
	copy(out, tr.points)
	return out
}

// Smoothed returns the trail as coordinates after Chaikin smoothing, for
// rendering only.
func (t *Tracker) Smoothed(entityID string, iterations int) []geo.LatLng {
	pts := t.Trail(entityID)
	coords := make([]geo.LatLng, len(pts))
	for i, p := range pts {
		coords[i] = p.LatLng()
	}
	return geo.SmoothPolyline(coords, iterations)
}

// Entities returns the ids with a trail, sorted.
func (t *Tracker) Entities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.trails))
	for id := range t.trails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops an entity's trail.
func (t *Tracker) Forget(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.trails, entityID)
}
