// Package replay plays back a stored historical track: a pure cursor state
// machine (Engine) and a clock-driven Player that emits frames.
package replay

import (
	"errors"
	"math"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
)

// Errors.
var (
	ErrEmptyTrack  = errors.New("replay track is empty")
	ErrInvalidRate = errors.New("rate multiplier must be a positive finite number")
)

// State of the playback cursor.
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// Track is an ordered, immutable sequence of reports for one entity.
type Track struct {
	reports []position.Report
}

// NewTrack copies reports into a track.
func NewTrack(reports []position.Report) Track {
	return Track{reports: append([]position.Report(nil), reports...)}
}

// Len returns the number of reports.
func (t Track) Len() int { return len(t.reports) }

// At returns the report at i.
func (t Track) At(i int) position.Report { return t.reports[i] }

// EntityID returns the entity of the first report.
func (t Track) EntityID() string {
	if len(t.reports) == 0 {
		return ""
	}
	return t.reports[0].EntityID
}

// Reports returns a copy of the reports.
func (t Track) Reports() []position.Report {
	return append([]position.Report(nil), t.reports...)
}

// Coords returns the track's coordinates in order.
func (t Track) Coords() []geo.LatLng {
	out := make([]geo.LatLng, len(t.reports))
	for i, r := range t.reports {
		out[i] = r.LatLng()
	}
	return out
}

// Cursor is the only mutable playback state.
type Cursor struct {
	Index   int     `json:"index"`
	Playing bool    `json:"playing"`
	Rate    float64 `json:"rate"`
}

// Engine is the playback state machine over one track. It is not safe for
// concurrent use; Player serializes access.
type Engine struct {
	track  Track
	coords []geo.LatLng
	cursor Cursor
	state  State
}

// NewEngine returns a stopped engine at index 0 with rate 1.
func NewEngine(track Track) (*Engine, error) {
	if track.Len() == 0 {
		return nil, ErrEmptyTrack
	}
	return &Engine{
		track:  track,
		coords: track.Coords(),
		cursor: Cursor{Rate: 1},
		state:  StateStopped,
	}, nil
}

// Track returns the engine's track.
func (e *Engine) Track() Track { return e.track }

// Cursor returns the current cursor.
func (e *Engine) Cursor() Cursor { return e.cursor }

// State returns the playback state.
func (e *Engine) State() State { return e.state }

func (e *Engine) last() int { return e.track.Len() - 1 }

// Play starts or resumes playback; from Ended it restarts at index 0.
func (e *Engine) Play() {
	if e.state == StateEnded {
		e.cursor.Index = 0
	}
	if e.cursor.Index >= e.last() {
		e.setState(StateEnded)
		return
	}
	e.setState(StatePlaying)
}

// Pause stops advancing without moving the cursor.
func (e *Engine) Pause() {
	if e.state == StatePlaying {
		e.setState(StatePaused)
	}
}

// Toggle flips between playing and not playing.
func (e *Engine) Toggle() {
	if e.state == StatePlaying {
		e.Pause()
		return
	}
	e.Play()
}

// Seek moves the cursor to i clamped to the track. It is valid in any state.
// Landing on the last index ends playback so a later Play restarts at 0.
func (e *Engine) Seek(i int) {
	if i < 0 {
		i = 0
	}
	if i > e.last() {
		i = e.last()
	}
	e.cursor.Index = i

	switch {
	case i == e.last():
		e.setState(StateEnded)
	case e.state == StateEnded:
		e.setState(StatePaused)
	case e.state == StateStopped && i > 0:
		e.setState(StatePaused)
	}
}

// Advance moves the cursor forward by one while playing. Reaching the last
// index ends playback; it reports whether the cursor moved.
func (e *Engine) Advance() bool {
	if e.state != StatePlaying {
		return false
	}
	if e.cursor.Index >= e.last() {
		e.setState(StateEnded)
		return false
	}
	e.cursor.Index++
	if e.cursor.Index == e.last() {
		e.setState(StateEnded)
	}
	return true
}

// SetRate sets the rate multiplier.
func (e *Engine) SetRate(r float64) error {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return ErrInvalidRate
	}
	e.cursor.Rate = r
	return nil
}

func (e *Engine) setState(s State) {
	e.state = s
	e.cursor.Playing = s == StatePlaying
}

// Frame returns the output for the current cursor.
func (e *Engine) Frame() Frame {
	i := e.cursor.Index
	return Frame{
		Index:     i,
		Len:       e.track.Len(),
		State:     e.state,
		Rate:      e.cursor.Rate,
		Report:    e.track.At(i),
		Traveled:  e.coords[: i+1 : i+1],
		Remaining: e.coords[i:],
	}
}
