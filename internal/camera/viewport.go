package camera

import (
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// Viewport receives the controller's camera commands.
type Viewport interface {
	FlyTo(center geo.LatLng, zoom float64, duration time.Duration)
	SetView(center geo.LatLng, zoom float64)
	Zoom() float64
}

// CommandKind distinguishes animated from instant moves.
type CommandKind string

const (
	CommandFlyTo   CommandKind = "flyTo"
	CommandSetView CommandKind = "setView"
)

// Command is one viewport change issued by the controller.
type Command struct {
	Kind     CommandKind   `json:"kind"`
	Center   geo.LatLng    `json:"center"`
	Zoom     float64       `json:"zoom"`
	Duration time.Duration `json:"duration"`
}

// Recorder is an in-memory Viewport. It keeps the last center and zoom and
// a bounded log of commands for clients that poll the viewport.
type Recorder struct {
	mu       sync.Mutex
	center   geo.LatLng
	zoom     float64
	commands []Command
	limit    int
}

// NewRecorder returns a recorder at the given initial view.
func NewRecorder(center geo.LatLng, zoom float64) *Recorder {
	return &Recorder{center: center, zoom: zoom, limit: 64}
}

func (r *Recorder) record(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.center, r.zoom = c.Center, c.Zoom
	r.commands = append(r.commands, c)
	if len(r.commands) > r.limit {
		r.commands = r.commands[len(r.commands)-r.limit:]
	}
}

// FlyTo implements Viewport.
func (r *Recorder) FlyTo(center geo.LatLng, zoom float64, d time.Duration) {
	r.record(Command{Kind: CommandFlyTo, Center: center, Zoom: zoom, Duration: d})
}

// SetView implements Viewport.
func (r *Recorder) SetView(center geo.LatLng, zoom float64) {
	r.record(Command{Kind: CommandSetView, Center: center, Zoom: zoom})
}

// Zoom implements Viewport.
func (r *Recorder) Zoom() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zoom
}

// View returns the current center and zoom.
func (r *Recorder) View() (geo.LatLng, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.center, r.zoom
}

// Move records a user-driven view change without logging a command.
func (r *Recorder) Move(center geo.LatLng, zoom float64) {
	r.mu.Lock()
	r.center, r.zoom = center, zoom
	r.mu.Unlock()
}

// Commands returns a copy of the command log.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}
