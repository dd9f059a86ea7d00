package replay

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/snap"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

var logf = monitoring.Component("replay")

// BaseTick is the tick period at rate 1.
const BaseTick = 100 * time.Millisecond

// TickPeriod returns the tick period for a rate multiplier.
func TickPeriod(rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(BaseTick) / rate)
}

// FrameListener receives replay frames.
type FrameListener func(Frame)

// Player drives an Engine from a clock and emits frames to listeners.
type Player struct {
	clock timeutil.Clock

	mu        sync.Mutex
	engine    *Engine
	geometry  snap.Geometry
	ticker    timeutil.Timer
	gen       uint64
	closed    bool
	done      chan struct{}
	nextID    int
	listeners map[int]FrameListener
}

// NewPlayer returns a stopped player over engine.
func NewPlayer(clock timeutil.Clock, engine *Engine) *Player {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Player{
		clock:     clock,
		engine:    engine,
		done:      make(chan struct{}),
		listeners: make(map[int]FrameListener),
	}
}

// OnFrame registers a frame listener and returns a func that removes it.
// Listeners run outside the lock on the ticking goroutine and must not block.
func (p *Player) OnFrame(fn FrameListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Done is closed when the player is closed.
func (p *Player) Done() <-chan struct{} { return p.done }

// SetGeometry attaches a snapped geometry; later frames carry the synced
// road-aligned position.
func (p *Player) SetGeometry(g snap.Geometry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.geometry = append(snap.Geometry(nil), g...)
}

// Geometry returns the attached geometry, or nil.
func (p *Player) Geometry() snap.Geometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geometry
}

// Frame returns the frame for the current cursor.
func (p *Player) Frame() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameLocked()
}

// Track returns the track being played.
func (p *Player) Track() Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Track()
}

// Cursor returns the engine cursor.
func (p *Player) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Cursor()
}

// State returns the engine state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.State()
}

// Play starts ticking. Restarting from Ended emits the frame at index 0.
// Calling Play while already playing leaves the running tick alone.
func (p *Player) Play() {
	p.mu.Lock()
	if p.closed || p.engine.State() == StatePlaying {
		p.mu.Unlock()
		return
	}
	restart := p.engine.State() == StateEnded
	p.engine.Play()
	p.rearmLocked()
	var f *Frame
	if restart {
		fr := p.frameLocked()
		f = &fr
	}
	listeners := p.listenersLocked()
	p.mu.Unlock()

	if f != nil {
		emit(listeners, *f)
	}
}

// Pause stops ticking.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.engine.Pause()
	p.stopLocked()
}

// Toggle flips between play and pause.
func (p *Player) Toggle() {
	if p.State() == StatePlaying {
		p.Pause()
		return
	}
	p.Play()
}

// Seek moves the cursor and emits one frame.
func (p *Player) Seek(i int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.engine.Seek(i)
	if p.engine.State() != StatePlaying {
		p.stopLocked()
	}
	f := p.frameLocked()
	listeners := p.listenersLocked()
	p.mu.Unlock()

	emit(listeners, f)
}

// SetRate changes the rate; a running tick is re-armed at the new period.
func (p *Player) SetRate(r float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.SetRate(r); err != nil {
		return err
	}
	if !p.closed {
		p.rearmLocked()
	}
	return nil
}

// Close cancels the tick. Later calls are no-ops.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stopLocked()
	close(p.done)
}

func (p *Player) rearmLocked() {
	p.stopLocked()
	if p.engine.State() != StatePlaying {
		return
	}
	gen := p.gen
	p.ticker = p.clock.AfterFunc(TickPeriod(p.engine.Cursor().Rate), func() { p.tick(gen) })
}

func (p *Player) stopLocked() {
	p.gen++
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}

func (p *Player) tick(gen uint64) {
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.ticker = nil
	if !p.engine.Advance() {
		p.mu.Unlock()
		return
	}
	f := p.frameLocked()
	if p.engine.State() == StatePlaying {
		p.ticker = p.clock.AfterFunc(TickPeriod(p.engine.Cursor().Rate), func() { p.tick(gen) })
	} else {
		logf("track %s ended at index %d", p.engine.Track().EntityID(), f.Index)
	}
	listeners := p.listenersLocked()
	p.mu.Unlock()

	emit(listeners, f)
}

func (p *Player) frameLocked() Frame {
	return p.engine.Frame().withGeometry(p.geometry)
}

// listenersLocked returns the listeners in registration order.
func (p *Player) listenersLocked() []FrameListener {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]FrameListener, len(ids))
	for i, id := range ids {
		out[i] = p.listeners[id]
	}
	return out
}

func emit(listeners []FrameListener, f Frame) {
	for _, fn := range listeners {
		fn(f)
	}
}
