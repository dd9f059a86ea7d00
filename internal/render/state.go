// Package render maps an entity's continuous motion state to a quantized
// render state and caches the icon generated for it, one entry per entity.
package render

import (
	"math"

	"github.com/banshee-data/fleettrack/internal/position"
)

// Bucket widths.
const (
	HeadingBucketDegrees = 10
	MovingSpeedBucket    = 5
	NoHeading            = -1
)

// Input is the raw, unquantized state of one entity.
type Input struct {
	Status   position.Status
	Blocked  bool
	Category string
	Heading  *float64
	Speed    float64
}

// InputFromReport builds an Input from the entity's latest report. Status is
// classified by the caller so that the cache never reads the clock.
func InputFromReport(r position.Report, status position.Status, category string, blocked bool) Input {
	return Input{
		Status:   status,
		Blocked:  blocked,
		Category: category,
		Heading:  r.Heading,
		Speed:    r.Speed,
	}
}

// State is the quantized, comparable render key.
type State struct {
	Status        position.Status `json:"status"`
	Blocked       bool            `json:"blocked"`
	Category      string          `json:"category"`
	HeadingBucket int             `json:"headingBucket"`
	SpeedBucket   int             `json:"speedBucket"`
}

// Quantize reduces in to its render key.
func Quantize(in Input) State {
	return State{
		Status:        in.Status,
		Blocked:       in.Blocked,
		Category:      in.Category,
		HeadingBucket: HeadingBucket(in.Heading),
		SpeedBucket:   SpeedBucket(in.Speed, in.Status == position.StatusMoving),
	}
}

// HeadingBucket rounds a heading to the nearest 10 degrees in [0,350].
// A missing heading maps to NoHeading.
func HeadingBucket(heading *float64) int {
	if heading == nil || math.IsNaN(*heading) || math.IsInf(*heading, 0) {
		return NoHeading
	}
	h := math.Mod(*heading, 360)
	if h < 0 {
		h += 360
	}
	b := int(math.Round(h/HeadingBucketDegrees)) * HeadingBucketDegrees
	if b >= 360 {
		b = 0
	}
	return b
}

// SpeedBucket quantizes speed. While moving it is floored to a multiple of
// MovingSpeedBucket; otherwise it is rounded to the nearest whole unit.
func SpeedBucket(speed float64, moving bool) int {
	if math.IsNaN(speed) || speed < 0 {
		speed = 0
	}
	if moving {
		return int(math.Floor(speed/MovingSpeedBucket)) * MovingSpeedBucket
	}
	return int(math.Round(speed))
}
