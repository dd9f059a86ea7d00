package replay

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/snap"
	"github.com/banshee-data/fleettrack/internal/testutil"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newPlayer(t *testing.T, n int) (*Player, *timeutil.MockClock, *[]Frame) {
	t.Helper()
	clock := timeutil.NewMockClock(testutil.Epoch)
	p := NewPlayer(clock, newEngine(t, n))
	frames := &[]Frame{}
	p.OnFrame(func(f Frame) { *frames = append(*frames, f) })
	t.Cleanup(p.Close)
	return p, clock, frames
}

func TestTickPeriod(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, TickPeriod(1))
	assert.Equal(t, 10*time.Millisecond, TickPeriod(10))
	assert.Equal(t, 200*time.Millisecond, TickPeriod(0.5))
	assert.Equal(t, 100*time.Millisecond, TickPeriod(0))
}

func TestPlayer_RateOneTakesTenSeconds(t *testing.T) {
	p, clock, frames := newPlayer(t, 100)
	p.Play()

	clock.Advance(9800 * time.Millisecond)
	assert.Equal(t, StatePlaying, p.State())
	assert.Equal(t, 98, p.Cursor().Index)

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, StateEnded, p.State())
	assert.Equal(t, 99, p.Cursor().Index)
	assert.Len(t, *frames, 99, "one frame per tick")

	clock.Advance(10 * time.Second)
	assert.Len(t, *frames, 99, "ticking stops at the end")
	assert.Equal(t, 0, clock.Pending())
}

func TestPlayer_RateTenTakesOneSecond(t *testing.T) {
	p, clock, _ := newPlayer(t, 100)
	require.NoError(t, p.SetRate(10))
	p.Play()

	clock.Advance(980 * time.Millisecond)
	assert.Equal(t, StatePlaying, p.State())
	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, StateEnded, p.State())
}

func TestPlayer_SetRateWhilePlaying(t *testing.T) {
	p, clock, _ := newPlayer(t, 100)
	p.Play()
	clock.Advance(time.Second)
	require.Equal(t, 10, p.Cursor().Index)

	require.NoError(t, p.SetRate(2))
	clock.Advance(time.Second)
	assert.Equal(t, 30, p.Cursor().Index)
	assert.Equal(t, 1, clock.Pending())

	assert.ErrorIs(t, p.SetRate(-2), ErrInvalidRate)
}

func TestPlayer_PauseAndSeek(t *testing.T) {
	p, clock, frames := newPlayer(t, 50)
	p.Play()
	clock.Advance(500 * time.Millisecond)
	p.Pause()
	require.Equal(t, 5, p.Cursor().Index)
	assert.Equal(t, 0, clock.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, 5, p.Cursor().Index)

	before := len(*frames)
	p.Seek(20)
	require.Len(t, *frames, before+1, "one frame per seek")
	assert.Equal(t, 20, (*frames)[before].Index)

	p.Seek(1000)
	assert.Equal(t, 49, p.Cursor().Index)
	assert.Equal(t, StateEnded, p.State())

	p.Seek(10)
	p.Toggle()
	assert.Equal(t, StatePlaying, p.State())
	p.Toggle()
	assert.Equal(t, StatePaused, p.State())
}

func TestPlayer_SeekWhilePlayingKeepsTicking(t *testing.T) {
	p, clock, _ := newPlayer(t, 50)
	p.Play()
	clock.Advance(200 * time.Millisecond)
	p.Seek(30)
	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 32, p.Cursor().Index)
}

func TestPlayer_PlayFromEndedEmitsRestartFrame(t *testing.T) {
	p, clock, frames := newPlayer(t, 3)
	p.Play()
	clock.Advance(time.Second)
	require.Equal(t, StateEnded, p.State())

	n := len(*frames)
	p.Play()
	require.Len(t, *frames, n+1)
	assert.Equal(t, 0, (*frames)[n].Index)
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, p.Cursor().Index)
}

func TestPlayer_FramesCarrySnappedPosition(t *testing.T) {
	p, _, frames := newPlayer(t, 100)

	g := make(snap.Geometry, 250)
	for i := range g {
		g[i] = geo.LatLng{Lat: 1, Lng: float64(i)}
	}
	p.SetGeometry(g)
	assert.Len(t, p.Geometry(), 250)

	p.Seek(50)
	f := (*frames)[0]
	require.NotNil(t, f.Snapped)
	assert.Equal(t, 125, f.SnappedIndex)
	assert.Equal(t, geo.LatLng{Lat: 1, Lng: 125}, *f.Snapped)
	assert.Len(t, f.SnappedTraveled, 126)
	assert.Len(t, f.SnappedRemaining, 125)

	p.Seek(99)
	assert.Equal(t, 247, p.Frame().SnappedIndex)
}

func TestPlayer_CloseStopsTicks(t *testing.T) {
	p, clock, frames := newPlayer(t, 100)
	p.Play()
	clock.Advance(300 * time.Millisecond)
	p.Close()
	n := len(*frames)

	clock.Advance(time.Second)
	p.Play()
	p.Seek(10)
	p.tick(p.gen)
	assert.Len(t, *frames, n)
	assert.Equal(t, 0, clock.Pending())
}

func TestPlayer_RepeatedPlayDoesNotStall(t *testing.T) {
	p, clock, _ := newPlayer(t, 100)
	p.Play()
	for i := 0; i < 20; i++ {
		clock.Advance(50 * time.Millisecond)
		p.Play()
	}
	assert.Equal(t, 10, p.Cursor().Index)
	assert.Equal(t, 1, clock.Pending())
}

func TestPlayer_SeekToLastThenPlayRestarts(t *testing.T) {
	p, clock, frames := newPlayer(t, 10)
	p.Seek(9)
	require.Equal(t, StateEnded, p.State())

	n := len(*frames)
	p.Play()
	require.Len(t, *frames, n+1)
	assert.Equal(t, 0, (*frames)[n].Index)
	assert.Equal(t, StatePlaying, p.State())

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, p.Cursor().Index)
}

func TestPlayer_UnsubscribeAndDone(t *testing.T) {
	p, _, frames := newPlayer(t, 10)
	var other []Frame
	stop := p.OnFrame(func(f Frame) { other = append(other, f) })

	p.Seek(3)
	stop()
	p.Seek(4)
	assert.Len(t, other, 1)
	assert.Len(t, *frames, 2)

	select {
	case <-p.Done():
		t.Fatal("done before close")
	default:
	}
	p.Close()
	p.Close()
	_, open := <-p.Done()
	assert.False(t, open)
}
