package position

import "time"

// Status is the coarse motion classification used for rendering and for
// picking a follow target.
type Status string

const (
	StatusMoving  Status = "moving"
	StatusIdle    Status = "idle"
	StatusStopped Status = "stopped"
	StatusOffline Status = "offline"
)

// ClassifyOptions tunes Classify.
type ClassifyOptions struct {
	MovingSpeed  float64       // speed at or above which a report counts as moving
	OfflineAfter time.Duration // receipt age after which an entity is offline; 0 disables
}

// DefaultClassifyOptions returns the thresholds used when none are configured.
func DefaultClassifyOptions() ClassifyOptions {
	return ClassifyOptions{MovingSpeed: 2, OfflineAfter: 10 * time.Minute}
}

// Classify derives the status of a report at time now.
func Classify(r Report, now time.Time, opts ClassifyOptions) Status {
	if opts.OfflineAfter > 0 {
		received := r.ServerTime
		if received.IsZero() {
			received = r.FirmTime
		}
		if !received.IsZero() && now.Sub(received) > opts.OfflineAfter {
			return StatusOffline
		}
	}
	if r.Attributes.Motion != nil {
		if *r.Attributes.Motion {
			return StatusMoving
		}
	} else if r.Speed >= opts.MovingSpeed {
		return StatusMoving
	}
	if r.Attributes.Ignition != nil && *r.Attributes.Ignition {
		return StatusIdle
	}
	return StatusStopped
}
