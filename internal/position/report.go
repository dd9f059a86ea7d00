// Package position defines the position report model shared by every part of
// the engine, its validation rules and the latest-position table the stream
// processor maintains.
package position

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// Validation errors for malformed reports.
var (
	ErrMissingEntityID     = errors.New("report has no entity id")
	ErrLatitudeOutOfRange  = errors.New("latitude out of range [-90,90]")
	ErrLongitudeOutOfRange = errors.New("longitude out of range [-180,180]")
)

// Attributes is the free-form attribute bag carried with a fix. The common
// keys are lifted into typed fields; anything else lands in Extra.
type Attributes struct {
	Ignition     *bool          `json:"ignition,omitempty"`
	Motion       *bool          `json:"motion,omitempty"`
	BatteryLevel *float64       `json:"batteryLevel,omitempty"`
	Satellites   *int           `json:"sat,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Report is one GPS fix for one entity. Reports are values: a newer report
// supersedes an older one for the same entity, it never mutates it.
type Report struct {
	EntityID   string     `json:"entityId"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Speed      float64    `json:"speed"`
	Heading    *float64   `json:"heading,omitempty"`
	FirmTime   time.Time  `json:"firmTime"`
	ServerTime time.Time  `json:"serverTime"`
	Attributes Attributes `json:"attributes"`
}

// Validate reports why a report must be dropped, or nil.
func (r Report) Validate() error {
	if r.EntityID == "" {
		return ErrMissingEntityID
	}
	if math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, r.Latitude)
	}
	if math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: %v", ErrLongitudeOutOfRange, r.Longitude)
	}
	return nil
}

// LatLng returns the report's coordinate.
func (r Report) LatLng() geo.LatLng {
	return geo.LatLng{Lat: r.Latitude, Lng: r.Longitude}
}

// HeadingDegrees returns the heading normalised into [0,360).
func (r Report) HeadingDegrees() (float64, bool) {
	if r.Heading == nil || math.IsNaN(*r.Heading) {
		return 0, false
	}
	h := math.Mod(*r.Heading, 360)
	if h < 0 {
		h += 360
	}
	return h, true
}

// Timestamp returns the fix time, falling back to the receipt time.
func (r Report) Timestamp() time.Time {
	if !r.FirmTime.IsZero() {
		return r.FirmTime
	}
	return r.ServerTime
}

// Filter splits a batch into valid reports, preserving order, and the number
// of malformed reports dropped.
func Filter(batch []Report) (valid []Report, dropped int) {
	valid = make([]Report, 0, len(batch))
	for _, r := range batch {
		if r.Validate() != nil {
			dropped++
			continue
		}
		valid = append(valid, r)
	}
	return valid, dropped
}
