package replay

import (
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/snap"
)

// Frame is emitted once per tick and once per seek. Traveled is the prefix
// [0..Index] and Remaining the suffix [Index..Len-1]; both share Index.
type Frame struct {
	Index     int             `json:"index"`
	Len       int             `json:"len"`
	State     State           `json:"state"`
	Rate      float64         `json:"rate"`
	Report    position.Report `json:"report"`
	Traveled  []geo.LatLng    `json:"traveled"`
	Remaining []geo.LatLng    `json:"remaining"`

	// Set once a snapped geometry is attached.
	Snapped          *geo.LatLng  `json:"snapped,omitempty"`
	SnappedIndex     int          `json:"snappedIndex,omitempty"`
	SnappedTraveled  []geo.LatLng `json:"snappedTraveled,omitempty"`
	SnappedRemaining []geo.LatLng `json:"snappedRemaining,omitempty"`
}

// withGeometry fills the snapped fields from g using proportional index
// mapping.
func (f Frame) withGeometry(g snap.Geometry) Frame {
	if len(g) == 0 {
		return f
	}
	j := snap.SyncedIndex(f.Index, f.Len, len(g))
	p := g[j]
	f.Snapped = &p
	f.SnappedIndex = j
	f.SnappedTraveled = g[: j+1 : j+1]
	f.SnappedRemaining = g[j:]
	return f
}
