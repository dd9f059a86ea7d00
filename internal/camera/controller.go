// Package camera drives the map viewport toward a selected or auto-picked
// entity and yields to the user on manual interaction.
package camera

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

var logf = monitoring.Component("camera")

// ErrUnknownEntity is returned when selecting an entity with no position.
var ErrUnknownEntity = errors.New("entity has no known position")

// State of the follow controller.
type State string

const (
	StateIdle          State = "idle"
	StateTransitioning State = "transitioning"
	StateFollowing     State = "following"
	StateOverride      State = "override"
)

// Mode of the follow target.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeSelected Mode = "selected"
	ModeAuto     Mode = "auto"
)

// Transition timings and zoom levels.
const (
	Phase1Duration  = 650 * time.Millisecond
	Phase2Delay     = 740 * time.Millisecond
	Phase2Duration  = 950 * time.Millisecond
	TransitionEnd   = 1900 * time.Millisecond
	MinPhase1Zoom   = 13
	MaxPhase1Zoom   = 15
	CloseZoom       = 17
	RecenterEpsilon = 1e-6
	echoGrace       = 100 * time.Millisecond
)

// FollowTarget is the session's single follow target plus transition state.
type FollowTarget struct {
	EntityID  string    `json:"entityId,omitempty"`
	Mode      Mode      `json:"mode"`
	Phase     int       `json:"phase"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Positions is the read-only view of the latest-position table.
type Positions interface {
	Get(entityID string) (position.Entry, bool)
	Snapshot() []position.Entry
}

// Controller is the camera follow state machine.
type Controller struct {
	clock     timeutil.Clock
	viewport  Viewport
	positions Positions
	classify  position.ClassifyOptions

	mu         sync.Mutex
	state      State
	target     FollowTarget
	animated   string
	gen        uint64
	phase2     timeutil.Timer
	done       timeutil.Timer
	echoUntil  time.Time
	lastCenter *geo.LatLng
	closed     bool
}

// NewController returns an idle controller.
func NewController(clock timeutil.Clock, vp Viewport, positions Positions, classify position.ClassifyOptions) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		clock:     clock,
		viewport:  vp,
		positions: positions,
		classify:  classify,
		state:     StateIdle,
		target:    FollowTarget{Mode: ModeNone},
	}
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns a copy of the follow target.
func (c *Controller) Target() FollowTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Select starts the two-phase transition to entityID. Selecting the entity
// the camera is already animating toward, or has just arrived at, is a
// no-op.
func (c *Controller) Select(entityID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.target.EntityID == entityID && c.target.Mode == ModeSelected &&
		(c.state == StateTransitioning || c.animated == entityID) {
		c.mu.Unlock()
		return nil
	}
	entry, ok := c.positions.Get(entityID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownEntity
	}

	c.cancelTimersLocked()
	now := c.clock.Now()
	c.state = StateTransitioning
	c.animated = ""
	c.target = FollowTarget{EntityID: entityID, Mode: ModeSelected, Phase: 1, StartedAt: now}
	c.echoUntil = now.Add(TransitionEnd)
	c.lastCenter = nil
	gen := c.gen
	c.phase2 = c.clock.AfterFunc(Phase2Delay, func() { c.runPhase2(gen) })
	c.done = c.clock.AfterFunc(TransitionEnd, func() { c.complete(gen) })
	c.mu.Unlock()

	zoom := clamp(c.viewport.Zoom()-3, MinPhase1Zoom, MaxPhase1Zoom)
	c.viewport.FlyTo(entry.Report.LatLng(), zoom, Phase1Duration)
	return nil
}

func (c *Controller) runPhase2(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != StateTransitioning {
		c.mu.Unlock()
		return
	}
	c.target.Phase = 2
	id := c.target.EntityID
	entry, ok := c.positions.Get(id)
	c.mu.Unlock()

	if !ok {
		logf("selected entity %s vanished before phase 2", id)
		return
	}
	c.viewport.FlyTo(entry.Report.LatLng(), CloseZoom, Phase2Duration)
}

func (c *Controller) complete(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || c.state != StateTransitioning {
		return
	}
	c.state = StateIdle
	c.animated = c.target.EntityID
	c.target.Phase = 0
	c.phase2, c.done = nil, nil
}

// EnableFollow switches to continuous follow of an auto-picked entity.
func (c *Controller) EnableFollow() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelTimersLocked()
	c.state = StateFollowing
	c.animated = ""
	c.target = FollowTarget{Mode: ModeAuto, StartedAt: c.clock.Now()}
	c.lastCenter = nil
	c.mu.Unlock()

	c.OnPositionsUpdated()
}

// OnPositionsUpdated recenters on the follow pick when following and the
// pick moved by more than RecenterEpsilon in either axis.
func (c *Controller) OnPositionsUpdated() {
	c.mu.Lock()
	if c.closed || c.state != StateFollowing {
		c.mu.Unlock()
		return
	}
	entry, ok := c.pickLocked()
	if !ok {
		c.mu.Unlock()
		return
	}
	pos := entry.Report.LatLng()
	changed := entry.Report.EntityID != c.target.EntityID
	c.target.EntityID = entry.Report.EntityID
	if !changed && c.lastCenter != nil &&
		math.Abs(pos.Lat-c.lastCenter.Lat) <= RecenterEpsilon &&
		math.Abs(pos.Lng-c.lastCenter.Lng) <= RecenterEpsilon {
		c.mu.Unlock()
		return
	}
	c.lastCenter = &pos
	c.echoUntil = c.clock.Now().Add(echoGrace)
	c.mu.Unlock()

	c.viewport.SetView(pos, c.viewport.Zoom())
}

// pickLocked returns the first moving entity by id, else the first entity.
func (c *Controller) pickLocked() (position.Entry, bool) {
	entries := c.positions.Snapshot()
	if len(entries) == 0 {
		return position.Entry{}, false
	}
	now := c.clock.Now()
	for _, e := range entries {
		if position.Classify(e.Report, now, c.classify) == position.StatusMoving {
			return e, true
		}
	}
	return entries[0], true
}

// HandleUserInteraction handles an explicit drag, zoom or touch. It always
// wins: timers are cancelled and follow is disabled.
func (c *Controller) HandleUserInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelTimersLocked()
	c.state = StateOverride
	c.animated = ""
	c.target = FollowTarget{Mode: ModeNone}
	c.lastCenter = nil
	c.echoUntil = time.Time{}
}

// HandleViewportMoved handles a viewport change of unknown origin. Changes
// that arrive while the controller's own move is in flight are echoes and
// are ignored; it reports whether the move was treated as user input.
func (c *Controller) HandleViewportMoved() bool {
	c.mu.Lock()
	if c.closed || c.clock.Now().Before(c.echoUntil) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.HandleUserInteraction()
	return true
}

// ClearSelection drops any selection or follow and returns to idle.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelTimersLocked()
	c.state = StateIdle
	c.animated = ""
	c.target = FollowTarget{Mode: ModeNone}
	c.lastCenter = nil
}

// Close cancels pending transition timers; later calls are no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelTimersLocked()
}

func (c *Controller) cancelTimersLocked() {
	c.gen++
	if c.phase2 != nil {
		c.phase2.Stop()
	}
	if c.done != nil {
		c.done.Stop()
	}
	c.phase2, c.done = nil, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
