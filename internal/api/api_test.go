package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/camera"
	"github.com/banshee-data/fleettrack/internal/directory"
	"github.com/banshee-data/fleettrack/internal/history"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/render"
	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/session"
	"github.com/banshee-data/fleettrack/internal/testutil"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type fixture struct {
	clock *timeutil.MockClock
	src   *testutil.FakeSource
	sess  *session.Session
	mux   http.Handler
}

func newFixture(t *testing.T, store *history.Store) *fixture {
	t.Helper()
	f := &fixture{
		clock: timeutil.NewMockClock(testutil.Epoch),
		src:   testutil.NewFakeSource(),
	}
	opts := session.Options{
		Clock:     f.clock,
		Source:    f.src,
		Directory: directory.Static{{ID: "veh-1", Name: "Truck 1", Category: "truck"}},
	}
	if store != nil {
		opts.Tracks = store
	}
	sess, err := session.New(opts)
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { sess.Close() })
	f.sess = sess
	f.mux = NewServer(sess, store).ServeMux()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = testutil.NewTestRequest(method, path)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := testutil.NewTestRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func newStore(t *testing.T, n int) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.InsertReports(context.Background(), testutil.Track("veh-1", n))
	require.NoError(t, err)
	return store
}

func TestStatusAndPositions(t *testing.T) {
	f := newFixture(t, nil)
	f.src.Push(testutil.Track("veh-1", 3)...)
	f.clock.Advance(250 * time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, f.sess.ID(), st.Session)
	assert.Equal(t, "dev", st.Version)
	assert.Equal(t, "receiving", st.State)
	assert.False(t, st.Polling)

	rec = f.do(t, http.MethodGet, "/api/positions", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Contains(t, rec.Body.String(), `"Truck 1"`)
}

func TestTrails(t *testing.T) {
	f := newFixture(t, nil)
	f.src.Push(testutil.Track("veh-1", 3)...)
	f.src.Push(testutil.Report("veh-2", 1, 1, 0))
	f.clock.Advance(250 * time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/trails", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "veh-1", first.Properties.MustString("entityId"))
	ls, ok := first.Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, ls, 3)
	assert.InDelta(t, 0.0002, ls[2][0], 1e-9, "longitude first")
	assert.InDelta(t, 0.0, ls[2][1], 1e-9)

	rec = f.do(t, http.MethodGet, "/api/trails/veh-1?smooth=2", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	feat, err := geojson.UnmarshalFeature(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "veh-1", feat.Properties.MustString("entityId"))

	rec = f.do(t, http.MethodGet, "/api/trails?smooth=9", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = f.do(t, http.MethodGet, "/api/trails/nobody", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestIconETag(t *testing.T) {
	f := newFixture(t, nil)
	f.src.Push(testutil.Report("veh-1", 0, 0, 30))
	f.clock.Advance(250 * time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/render/veh-1", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, render.ContentType, rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, rec.Body.String(), "<svg")

	req := testutil.NewTestRequest(http.MethodGet, "/api/render/veh-1")
	req.Header.Set("If-None-Match", etag)
	rec = testutil.NewTestRecorder()
	f.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotModified)
	assert.Empty(t, rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/api/render/nobody", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func decodeViewport(t *testing.T, rec *httptest.ResponseRecorder) viewportResponse {
	t.Helper()
	var vp viewportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vp))
	return vp
}

func TestFollow(t *testing.T) {
	f := newFixture(t, nil)
	f.src.Push(testutil.Report("veh-1", 10, 20, 50))
	f.clock.Advance(250 * time.Millisecond)

	rec := f.do(t, http.MethodPost, "/api/follow/select", `{"entityId":"nobody"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	rec = f.do(t, http.MethodPost, "/api/follow/select", `{}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, http.MethodPost, "/api/follow/select", `{"entityId":"veh-1"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	vp := decodeViewport(t, rec)
	assert.Equal(t, camera.StateTransitioning, vp.State)
	assert.Equal(t, "veh-1", vp.Target.EntityID)
	require.Len(t, vp.Commands, 1)
	assert.Equal(t, camera.CommandFlyTo, vp.Commands[0].Kind)

	// moves during the transition are echoes of our own animation
	rec = f.do(t, http.MethodPost, "/api/follow/moved", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var moved struct {
		Override bool             `json:"override"`
		Viewport viewportResponse `json:"viewport"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.False(t, moved.Override)

	f.clock.Advance(2 * time.Second)
	rec = f.do(t, http.MethodPost, "/api/follow/moved", `{"center":{"lat":1,"lng":2},"zoom":7}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.True(t, moved.Override)
	assert.Equal(t, camera.StateOverride, moved.Viewport.State)
	assert.Equal(t, 7.0, moved.Viewport.Zoom)
	assert.Equal(t, 1.0, moved.Viewport.Center.Lat)

	rec = f.do(t, http.MethodPost, "/api/follow/auto", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	vp = decodeViewport(t, rec)
	assert.Equal(t, camera.StateFollowing, vp.State)
	assert.Equal(t, camera.CommandSetView, vp.Commands[len(vp.Commands)-1].Kind)

	rec = f.do(t, http.MethodPost, "/api/follow/interaction", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, camera.StateOverride, decodeViewport(t, rec).State)

	rec = f.do(t, http.MethodPost, "/api/follow/clear", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, camera.StateIdle, decodeViewport(t, rec).State)

	rec = f.do(t, http.MethodPost, "/api/follow/interaction", `{"center":`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, http.MethodGet, "/api/viewport", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestReplayWithoutHistory(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/history", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	rec = f.do(t, http.MethodPost, "/api/replay/open", `{"entityId":"veh-1"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	rec = f.do(t, http.MethodGet, "/api/replay/frame", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
}

func decodeFrame(t *testing.T, rec *httptest.ResponseRecorder) replay.Frame {
	t.Helper()
	var fr replay.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fr))
	return fr
}

func TestReplayFlow(t *testing.T) {
	f := newFixture(t, newStore(t, 10))

	rec := f.do(t, http.MethodGet, "/api/history", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sums []history.TrackSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, 10, sums[0].Reports)

	rec = f.do(t, http.MethodPost, "/api/replay/open", `{"entityId":"nobody"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	rec = f.do(t, http.MethodPost, "/api/replay/open", `not json`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = f.do(t, http.MethodPost, "/api/replay/open",
		`{"entityId":"veh-1","from":"2026-01-02T00:00:00Z","to":"2026-01-01T00:00:00Z"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, http.MethodPost, "/api/replay/open", `{"entityId":"veh-1"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var opened openResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	assert.Equal(t, 10, opened.Summary.Reports)
	assert.Equal(t, 0, opened.Frame.Index)
	assert.Equal(t, 10, opened.Frame.Len)

	rec = f.do(t, http.MethodPost, "/api/replay/play", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, replay.StatePlaying, decodeFrame(t, rec).State)
	f.clock.Advance(500 * time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/replay/frame", "")
	assert.Equal(t, 5, decodeFrame(t, rec).Index)

	rec = f.do(t, http.MethodPost, "/api/replay/pause", "")
	assert.Equal(t, replay.StatePaused, decodeFrame(t, rec).State)

	rec = f.do(t, http.MethodPost, "/api/replay/seek", `{"index":2}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 2, decodeFrame(t, rec).Index)
	rec = f.do(t, http.MethodPost, "/api/replay/seek", `{}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, http.MethodPost, "/api/replay/rate", `{"rate":4}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 4.0, decodeFrame(t, rec).Rate)
	rec = f.do(t, http.MethodPost, "/api/replay/rate", `{"rate":0}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = f.do(t, http.MethodPost, "/api/replay/toggle", "")
	assert.Equal(t, replay.StatePlaying, decodeFrame(t, rec).State)

	rec = f.do(t, http.MethodGet, "/api/replay/summary", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sum summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "veh-1", sum.EntityID)
	assert.Equal(t, 40.0, sum.MaxSpeed)
	assert.Equal(t, "kmph", sum.Units)

	rec = f.do(t, http.MethodGet, "/api/replay/summary?units=mps", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.InDelta(t, 11.111, sum.MaxSpeed, 0.001)
	rec = f.do(t, http.MethodGet, "/api/replay/summary?units=parsecs", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	assert.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/replay/geometry", "")
		fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
		return err == nil && len(fc.Features) == 2
	}, 5*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/replay/chart", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Speed profile veh-1")
	rec = f.do(t, http.MethodGet, "/api/replay/chart?units=mph", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "mph")

	rec = f.do(t, http.MethodGet, "/api/replay/plot.png", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))

	rec = f.do(t, http.MethodPost, "/api/replay/close", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)
	rec = f.do(t, http.MethodGet, "/api/replay/frame", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.NewTestRecorder()
	h.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/x"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	assert.Len(t, lines, 1)
	assert.Equal(t, colorBoldRed+"418"+colorReset, statusCodeColor(418))
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, "101", statusCodeColor(101))
}
