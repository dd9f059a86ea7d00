package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/testutil"
)

func newEngine(t *testing.T, n int) *Engine {
	t.Helper()
	e, err := NewEngine(NewTrack(testutil.Track("E1", n)))
	require.NoError(t, err)
	return e
}

func TestNewEngine_EmptyTrack(t *testing.T) {
	_, err := NewEngine(NewTrack(nil))
	assert.ErrorIs(t, err, ErrEmptyTrack)
}

func TestEngine_InitialState(t *testing.T) {
	e := newEngine(t, 10)
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, Cursor{Index: 0, Playing: false, Rate: 1}, e.Cursor())
	assert.Equal(t, "E1", e.Track().EntityID())
}

func TestEngine_SeekClamps(t *testing.T) {
	e := newEngine(t, 10)
	for _, tc := range []struct{ in, want int }{
		{-100, 0}, {-1, 0}, {0, 0}, {4, 4}, {9, 9}, {10, 9}, {1 << 30, 9},
	} {
		e.Seek(tc.in)
		assert.Equal(t, tc.want, e.Cursor().Index, "Seek(%d)", tc.in)
	}
}

func TestEngine_AdvanceToEnd(t *testing.T) {
	e := newEngine(t, 3)
	assert.False(t, e.Advance(), "stopped engine does not advance")

	e.Play()
	require.Equal(t, StatePlaying, e.State())
	assert.True(t, e.Cursor().Playing)
	assert.True(t, e.Advance())
	assert.True(t, e.Advance())
	assert.Equal(t, StateEnded, e.State())
	assert.Equal(t, 2, e.Cursor().Index)
	assert.False(t, e.Cursor().Playing)

	assert.False(t, e.Advance())
	assert.Equal(t, 2, e.Cursor().Index, "no increments past the end")
}

func TestEngine_PlayFromEndedRestarts(t *testing.T) {
	e := newEngine(t, 5)
	e.Play()
	e.Seek(4)
	require.Equal(t, StateEnded, e.State())

	e.Play()
	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, 0, e.Cursor().Index)
}

func TestEngine_PauseToggleAndSeekStates(t *testing.T) {
	e := newEngine(t, 5)
	e.Seek(2)
	assert.Equal(t, StatePaused, e.State())

	e.Toggle()
	assert.Equal(t, StatePlaying, e.State())
	assert.Equal(t, 2, e.Cursor().Index)
	e.Toggle()
	assert.Equal(t, StatePaused, e.State())
	e.Pause()
	assert.Equal(t, StatePaused, e.State())

	e.Seek(4)
	assert.Equal(t, StateEnded, e.State())
	e.Seek(3)
	assert.Equal(t, StatePaused, e.State())
}

func TestEngine_SeekToLastThenPlayRestarts(t *testing.T) {
	for _, setup := range []struct {
		name string
		prep func(e *Engine)
	}{
		{"stopped", func(e *Engine) {}},
		{"paused", func(e *Engine) { e.Play(); e.Advance(); e.Pause() }},
		{"playing", func(e *Engine) { e.Play() }},
	} {
		t.Run(setup.name, func(t *testing.T) {
			e := newEngine(t, 10)
			setup.prep(e)
			e.Seek(9)
			require.Equal(t, StateEnded, e.State())
			assert.Equal(t, 9, e.Cursor().Index)

			e.Play()
			assert.Equal(t, StatePlaying, e.State())
			assert.Equal(t, 0, e.Cursor().Index)
		})
	}
}

func TestEngine_SingleReportTrack(t *testing.T) {
	e := newEngine(t, 1)
	e.Play()
	assert.Equal(t, StateEnded, e.State())
	f := e.Frame()
	assert.Len(t, f.Traveled, 1)
	assert.Len(t, f.Remaining, 1)
}

func TestEngine_SetRate(t *testing.T) {
	e := newEngine(t, 2)
	require.NoError(t, e.SetRate(2.5))
	assert.Equal(t, 2.5, e.Cursor().Rate)
	assert.ErrorIs(t, e.SetRate(0), ErrInvalidRate)
	assert.ErrorIs(t, e.SetRate(-1), ErrInvalidRate)
	assert.Equal(t, 2.5, e.Cursor().Rate)
}

func TestEngine_FrameSegments(t *testing.T) {
	e := newEngine(t, 5)
	e.Seek(2)
	f := e.Frame()

	assert.Equal(t, 2, f.Index)
	assert.Equal(t, 5, f.Len)
	assert.Equal(t, e.Track().At(2), f.Report)
	require.Len(t, f.Traveled, 3)
	require.Len(t, f.Remaining, 3)
	assert.Equal(t, f.Traveled[2], f.Remaining[0], "segments meet at the cursor")
	assert.Nil(t, f.Snapped)

	// Appending to a frame segment must not corrupt the track.
	_ = append(f.Traveled, geo.LatLng{Lat: 89})
	assert.Equal(t, e.Track().At(3).LatLng(), e.Frame().Remaining[1])
}

func TestTrack_Copies(t *testing.T) {
	reports := testutil.Track("E1", 3)
	tr := NewTrack(reports)
	reports[0].Latitude = 50
	assert.Equal(t, 0.0, tr.At(0).Latitude)

	out := tr.Reports()
	out[1].Latitude = 60
	assert.Equal(t, 0.0, tr.At(1).Latitude)
	assert.Equal(t, "", NewTrack(nil).EntityID())
}
