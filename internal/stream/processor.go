// Package stream owns live ingestion: it subscribes to a push source, falls
// back to polling when the source goes quiet, coalesces bursts behind a
// trailing debounce and fans flushed reports into the latest-position table
// and the trail tracker.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/trail"
)

var logf = monitoring.Component("stream")

// Errors returned by Start.
var (
	ErrAlreadyStarted = errors.New("stream processor already started")
	ErrClosed         = errors.New("stream processor closed")
)

// State is the connectivity state of the ingestion channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReceiving    State = "receiving"
	StateSilent       State = "silent"
	StatePolling      State = "polling"
)

// Config holds the processor timings.
type Config struct {
	FlushDelay       time.Duration
	WatchdogInterval time.Duration
	SilenceThreshold time.Duration
	PollInterval     time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		FlushDelay:       250 * time.Millisecond,
		WatchdogInterval: time.Second,
		SilenceThreshold: 10 * time.Second,
		PollInterval:     3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FlushDelay <= 0 {
		c.FlushDelay = d.FlushDelay
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Status is the connectivity indicator exposed to the UI.
type Status struct {
	State     State     `json:"state"`
	Polling   bool      `json:"polling"`
	LastBatch time.Time `json:"lastBatch"`
}

// Stats are cumulative processor counters.
type Stats struct {
	Batches        uint64 `json:"batches"`
	Flushes        uint64 `json:"flushes"`
	Applied        uint64 `json:"applied"`
	Dropped        uint64 `json:"dropped"`
	Polls          uint64 `json:"polls"`
	PollFailures   uint64 `json:"pollFailures"`
	PollingEntries uint64 `json:"pollingEntries"`
}

// FlushListener is told which entities a flush updated, in first-seen order.
type FlushListener func(entityIDs []string)

// Processor is the live position stream processor. Its flush is the only
// writer of the table and the trails it is given.
type Processor struct {
	cfg     Config
	clock   timeutil.Clock
	src     source.Source
	fetcher source.Fetcher
	table   *position.Table
	trails  *trail.Tracker

	mu            sync.Mutex
	state         State
	started       bool
	closed        bool
	everConnected bool
	lastBatch     time.Time
	pending       []position.Report
	flushTimer    timeutil.Timer
	watchdog      timeutil.Timer
	pollTimer     timeutil.Timer
	pollGen       uint64
	unsubscribe   func()
	cancel        context.CancelFunc
	ctx           context.Context
	listeners     []FlushListener
	stats         Stats
}

// NewProcessor wires a processor. fetcher may be nil, in which case the
// polling state is entered but nothing is fetched.
func NewProcessor(cfg Config, clock timeutil.Clock, src source.Source, fetcher source.Fetcher, table *position.Table, trails *trail.Tracker) *Processor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Processor{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		src:     src,
		fetcher: fetcher,
		table:   table,
		trails:  trails,
		state:   StateDisconnected,
	}
}

// OnFlush registers a listener called after every flush, outside the lock.
func (p *Processor) OnFlush(l FlushListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Table returns the latest-position table.
func (p *Processor) Table() *position.Table { return p.table }

// Trails returns the trail tracker.
func (p *Processor) Trails() *trail.Tracker { return p.trails }

// Start subscribes to the source, connects it and arms the watchdog. A
// connect failure is logged and the processor falls back to polling.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.state = StateConnecting
	p.lastBatch = p.clock.Now()
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	unsub := p.src.Subscribe(p.onBatch)
	err := p.src.Connect(runCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		unsub()
		return ErrClosed
	}
	p.unsubscribe = unsub
	if err != nil {
		logf("connect failed, polling: %v", err)
		p.enterPollingLocked()
	}
	p.watchdog = p.clock.AfterFunc(p.cfg.WatchdogInterval, p.onWatchdog)
	return nil
}

// Close unsubscribes, disconnects the source and cancels every timer.
// Callbacks that fire afterwards are no-ops.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	wasStarted := p.started
	p.state = StateDisconnected
	p.pending = nil
	for _, t := range []timeutil.Timer{p.flushTimer, p.watchdog, p.pollTimer} {
		if t != nil {
			t.Stop()
		}
	}
	p.flushTimer, p.watchdog, p.pollTimer = nil, nil, nil
	if p.cancel != nil {
		p.cancel()
	}
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if !wasStarted {
		return nil
	}
	return p.src.Disconnect()
}

// Status returns the current connectivity indicator.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{State: p.state, Polling: p.state == StatePolling, LastBatch: p.lastBatch}
}

// Stats returns a copy of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// onBatch handles a push batch: it marks the channel receiving, stops any
// polling and queues the reports for the next flush.
func (p *Processor) onBatch(batch []position.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stats.Batches++
	p.lastBatch = p.clock.Now()
	p.everConnected = true
	if p.state == StatePolling {
		p.stopPollingLocked()
		logf("push data resumed, polling stopped")
	}
	p.state = StateReceiving
	p.enqueueLocked(batch)
}

// enqueueLocked appends to the pending buffer. The first batch of a window
// arms the flush; later ones ride along without re-arming it.
func (p *Processor) enqueueLocked(batch []position.Report) {
	if len(batch) == 0 {
		return
	}
	p.pending = append(p.pending, batch...)
	if p.flushTimer == nil {
		p.flushTimer = p.clock.AfterFunc(p.cfg.FlushDelay, p.flush)
	}
}

func (p *Processor) flush() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	pending := p.pending
	p.pending = nil
	p.flushTimer = nil
	nowMillis := p.clock.Now().UnixMilli()

	valid, dropped := position.Filter(pending)
	updated := make([]string, 0, len(valid))
	seen := make(map[string]bool, len(valid))
	for _, r := range valid {
		p.trails.Ingest(r.EntityID, trail.Point{
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
			CapturedAtMillis: nowMillis,
		}, nowMillis)
		p.table.Upsert(r, p.trails.RecentDistanceKm(r.EntityID))
		if !seen[r.EntityID] {
			seen[r.EntityID] = true
			updated = append(updated, r.EntityID)
		}
	}
	p.stats.Flushes++
	p.stats.Applied += uint64(len(valid))
	p.stats.Dropped += uint64(dropped)
	listeners := append([]FlushListener(nil), p.listeners...)
	p.mu.Unlock()

	if dropped > 0 {
		logf("dropped %d malformed reports", dropped)
	}
	for _, l := range listeners {
		l(updated)
	}
}

func (p *Processor) onWatchdog() {
	connected := p.src.IsConnected()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	now := p.clock.Now()
	silence := now.Sub(p.lastBatch)

	switch p.state {
	case StateConnecting:
		if connected {
			p.everConnected = true
			p.state = StateReceiving
			p.lastBatch = now
		} else if silence >= p.cfg.SilenceThreshold {
			logf("no connection after %v, polling", silence)
			p.enterPollingLocked()
		}
	case StateReceiving, StateSilent:
		switch {
		case !connected && p.everConnected:
			logf("channel disconnected, polling")
			p.enterPollingLocked()
		case silence >= p.cfg.SilenceThreshold:
			logf("no data for %v, polling", silence)
			p.enterPollingLocked()
		case silence >= p.cfg.WatchdogInterval:
			p.state = StateSilent
		}
	}
	p.watchdog = p.clock.AfterFunc(p.cfg.WatchdogInterval, p.onWatchdog)
}

// enterPollingLocked switches to polling and schedules an immediate fetch.
func (p *Processor) enterPollingLocked() {
	if p.state == StatePolling {
		return
	}
	p.state = StatePolling
	p.stats.PollingEntries++
	p.pollGen++
	gen := p.pollGen
	p.pollTimer = p.clock.AfterFunc(0, func() { p.poll(gen) })
}

func (p *Processor) stopPollingLocked() {
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	p.pollGen++
}

// poll runs one fetch outside the lock. Failures are retried on the next
// interval; results go through the same debounce as push batches.
func (p *Processor) poll(gen uint64) {
	p.mu.Lock()
	if p.closed || gen != p.pollGen {
		p.mu.Unlock()
		return
	}
	p.pollTimer = nil
	ctx := p.ctx
	fetcher := p.fetcher
	p.mu.Unlock()

	var (
		reports []position.Report
		err     error
	)
	if fetcher != nil {
		reports, err = fetcher.FetchAllCurrentPositions(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if fetcher != nil {
		p.stats.Polls++
	}
	// Push data resumed while the fetch was in flight; its snapshot is older.
	if gen != p.pollGen || p.state != StatePolling {
		return
	}
	if err != nil {
		p.stats.PollFailures++
		logf("poll failed: %v", err)
	} else {
		p.enqueueLocked(reports)
	}
	p.pollTimer = p.clock.AfterFunc(p.cfg.PollInterval, func() { p.poll(gen) })
}
