// Package session owns one instance of every engine component for a single
// view session and wires them together: the stream processor feeds the
// position table and trails, each flush refreshes icons and the camera, and
// replays load from history and snap in the background.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fleettrack/internal/camera"
	"github.com/banshee-data/fleettrack/internal/config"
	"github.com/banshee-data/fleettrack/internal/directory"
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/history"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/render"
	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/snap"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/stream"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/trail"
)

var logf = monitoring.Component("session")

// Errors.
var (
	ErrNoSource          = errors.New("session requires a position source")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrNoReplay          = errors.New("no replay is open")
	ErrReplayUnavailable = errors.New("no track history configured")
	ErrClosed            = errors.New("session closed")
)

// DefaultCenter and DefaultZoom are the initial viewport.
var (
	DefaultCenter = geo.LatLng{}
	DefaultZoom   = 3.0
)

// ReportWriter persists live reports for later replay.
type ReportWriter interface {
	InsertReports(ctx context.Context, reports []position.Report) (int, error)
}

// Options are the session's collaborators. Only Source is required.
type Options struct {
	Config    *config.EngineConfig
	Clock     timeutil.Clock
	Source    source.Source
	Fetcher   source.Fetcher
	Directory directory.Directory
	Tracks    history.TrackLoader
	Recorder  ReportWriter
	Snapper   snap.Service
}

// Session is one view session.
type Session struct {
	id       string
	cfg      *config.EngineConfig
	clock    timeutil.Clock
	classify position.ClassifyOptions

	src       source.Source
	dir       directory.Directory
	index     *directory.Index
	table     *position.Table
	trails    *trail.Tracker
	icons     *render.Cache
	processor *stream.Processor
	viewport  *camera.Recorder
	camera    *camera.Controller
	snapper   *snap.Adapter
	tracks    history.TrackLoader
	recorder  ReportWriter

	mu           sync.Mutex
	player       *replay.Player
	replayCancel context.CancelFunc
	unsubscribe  func()
	closed       bool
}

// New constructs every component; nothing runs until Start.
func New(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		clock:    clock,
		classify: cfg.ClassifyOptions(),
		src:      opts.Source,
		dir:      opts.Directory,
		index:    directory.NewIndex(),
		table:    position.NewTable(),
		trails:   trail.NewTracker(cfg.TrailConfig()),
		icons:    render.NewCache(),
		viewport: camera.NewRecorder(DefaultCenter, DefaultZoom),
		tracks:   opts.Tracks,
		recorder: opts.Recorder,
	}
	s.processor = stream.NewProcessor(cfg.StreamConfig(), clock, opts.Source, opts.Fetcher, s.table, s.trails)
	s.camera = camera.NewController(clock, s.viewport, s.table, s.classify)
	s.snapper = &snap.Adapter{
		Service:           opts.Snapper,
		Clock:             clock,
		ChunkSize:         cfg.GetSnapChunkSize(),
		InterRequestDelay: cfg.GetSnapDelay(),
	}
	s.processor.OnFlush(s.onFlush)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Start loads the directory, starts recording and starts the processor.
// A directory failure is logged; entities then render with no category.
func (s *Session) Start(ctx context.Context) error {
	if s.dir != nil {
		if err := s.index.Refresh(ctx, s.dir); err != nil {
			logf("%s: directory unavailable: %v", s.id, err)
		}
	}
	if s.recorder != nil {
		unsub := s.src.Subscribe(func(batch []position.Report) {
			if _, err := s.recorder.InsertReports(ctx, batch); err != nil {
				logf("%s: recording batch: %v", s.id, err)
			}
		})
		s.mu.Lock()
		s.unsubscribe = unsub
		s.mu.Unlock()
	}
	return s.processor.Start(ctx)
}

// Close disposes every component. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.CloseReplay()
	s.camera.Close()
	if unsub != nil {
		unsub()
	}
	return s.processor.Close()
}

func (s *Session) onFlush(ids []string) {
	now := s.clock.Now()
	for _, id := range ids {
		if e, ok := s.table.Get(id); ok {
			s.icons.GetOrCreate(id, s.renderInput(e.Report, now))
		}
	}
	s.camera.OnPositionsUpdated()
}

func (s *Session) renderInput(r position.Report, now time.Time) render.Input {
	ent, _ := s.index.Lookup(r.EntityID)
	return render.InputFromReport(r, position.Classify(r, now, s.classify), ent.Category, ent.Blocked)
}

// Status returns the connectivity indicator.
func (s *Session) Status() stream.Status { return s.processor.Status() }

// Stats returns the processor counters.
func (s *Session) Stats() stream.Stats { return s.processor.Stats() }

// EntityView is one row of the live positions listing.
type EntityView struct {
	position.Entry
	Entity directory.Entity `json:"entity"`
	Status position.Status  `json:"status"`
}

// Positions lists the latest position of every entity, ordered by id.
func (s *Session) Positions() []EntityView {
	now := s.clock.Now()
	entries := s.table.Snapshot()
	out := make([]EntityView, len(entries))
	for i, e := range entries {
		ent, _ := s.index.Lookup(e.Report.EntityID)
		out[i] = EntityView{Entry: e, Entity: ent, Status: position.Classify(e.Report, now, s.classify)}
	}
	return out
}

// Trail returns the entity's retained trail.
func (s *Session) Trail(entityID string) ([]trail.Point, error) {
	if _, ok := s.table.Get(entityID); !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrUnknownEntity)
	}
	return s.trails.Trail(entityID), nil
}

// SmoothedTrail returns the entity's trail after the given number of
// corner-cutting passes.
func (s *Session) SmoothedTrail(entityID string, iterations int) ([]geo.LatLng, error) {
	if _, ok := s.table.Get(entityID); !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrUnknownEntity)
	}
	return s.trails.Smoothed(entityID, iterations), nil
}

// Icon returns the entity's icon for its current state, regenerating it only
// when the quantized state changed.
func (s *Session) Icon(entityID string) (*render.Icon, error) {
	e, ok := s.table.Get(entityID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrUnknownEntity)
	}
	return s.icons.GetOrCreate(entityID, s.renderInput(e.Report, s.clock.Now())), nil
}

// Camera returns the follow controller.
func (s *Session) Camera() *camera.Controller { return s.camera }

// Viewport returns the in-memory viewport the camera drives.
func (s *Session) Viewport() *camera.Recorder { return s.viewport }

// OpenReplay loads entityID's stored track in [from, to], replacing any open
// replay, and starts snapping it in the background. Frames use the raw
// track until the snapped geometry arrives.
func (s *Session) OpenReplay(ctx context.Context, entityID string, from, to time.Time) (*replay.Player, error) {
	if s.tracks == nil {
		return nil, ErrReplayUnavailable
	}
	track, err := s.tracks.LoadTrack(ctx, entityID, from, to)
	if err != nil {
		return nil, err
	}
	engine, err := replay.NewEngine(track)
	if err != nil {
		return nil, err
	}
	player := replay.NewPlayer(s.clock, engine)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		player.Close()
		return nil, ErrClosed
	}
	prev, prevCancel := s.player, s.replayCancel
	snapCtx, cancel := context.WithCancel(context.Background())
	s.player, s.replayCancel = player, cancel
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		prev.Close()
	}

	s.snapper.SnapAsync(snapCtx, track.Coords(), func(g snap.Geometry) {
		if snapCtx.Err() != nil {
			return
		}
		player.SetGeometry(g)
	})
	return player, nil
}

// Replay returns the open replay player.
func (s *Session) Replay() (*replay.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil, ErrNoReplay
	}
	return s.player, nil
}

// CloseReplay stops the open replay and abandons its snapping.
func (s *Session) CloseReplay() {
	s.mu.Lock()
	p, cancel := s.player, s.replayCancel
	s.player, s.replayCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		p.Close()
	}
}
