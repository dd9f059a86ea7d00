package snap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func line(n int) []geo.LatLng {
	out := make([]geo.LatLng, n)
	for i := range out {
		out[i] = geo.LatLng{Lat: 45, Lng: 7 + float64(i)*0.001}
	}
	return out
}

// echoService returns its input nudged north, recording chunk sizes.
type echoService struct {
	mu     sync.Mutex
	sizes  []int
	failAt int
}

func (s *echoService) Snap(_ context.Context, coords []geo.LatLng) ([]geo.LatLng, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, len(coords))
	if s.failAt > 0 && len(s.sizes) == s.failAt {
		return nil, errors.New("rate limited")
	}
	out := make([]geo.LatLng, len(coords))
	for i, p := range coords {
		out[i] = geo.LatLng{Lat: p.Lat + 0.0001, Lng: p.Lng}
	}
	return out, nil
}

type failingService struct{}

func (failingService) Snap(context.Context, []geo.LatLng) ([]geo.LatLng, error) {
	return nil, errors.New("unreachable")
}

func TestChunks(t *testing.T) {
	pts := line(150)
	chunks := Chunks(pts, 100)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 51)
	assert.Equal(t, chunks[0][99], chunks[1][0], "chunks share exactly one boundary point")

	assert.Len(t, Chunks(line(100), 100), 1)
	assert.Len(t, Chunks(line(199), 100), 2)
	assert.Len(t, Chunks(line(200), 100), 3)
	assert.Nil(t, Chunks(nil, 100))
	assert.Len(t, Chunks(line(3), 1), 2, "size below 2 is raised to 2")
}

func TestSnap_StitchesWithoutDuplicateBoundary(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	svc := &echoService{}
	a := NewAdapter(svc, clock)

	raw := line(150)
	got := a.Snap(context.Background(), raw)

	assert.Equal(t, []int{100, 51}, svc.sizes)
	require.Len(t, got, 150)
	for i := range raw {
		assert.InDelta(t, raw[i].Lat+0.0001, got[i].Lat, 1e-12)
		assert.Equal(t, raw[i].Lng, got[i].Lng)
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Sleeps())
}

func TestSnap_FailureFallsBackToRaw(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	raw := line(250)

	got := NewAdapter(failingService{}, clock).Snap(context.Background(), raw)
	if diff := cmp.Diff(raw, []geo.LatLng(got)); diff != "" {
		t.Errorf("fallback mismatch (-raw +got):\n%s", diff)
	}

	svc := &echoService{failAt: 2}
	got = NewAdapter(svc, clock).Snap(context.Background(), raw)
	assert.Equal(t, []geo.LatLng(raw), []geo.LatLng(got), "a later chunk failure discards partial results")
	assert.Len(t, svc.sizes, 2, "no requests after the first failure")
}

func TestSnap_EmptyAndNilService(t *testing.T) {
	a := NewAdapter(&echoService{}, timeutil.NewMockClock(time.Unix(0, 0)))
	assert.Empty(t, a.Snap(context.Background(), nil))

	raw := line(5)
	got := (&Adapter{}).Snap(context.Background(), raw)
	assert.Equal(t, []geo.LatLng(raw), []geo.LatLng(got))
}

func TestSnap_CancelledContextFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &echoService{}
	raw := line(10)
	got := NewAdapter(svc, timeutil.NewMockClock(time.Unix(0, 0))).Snap(ctx, raw)
	assert.Equal(t, []geo.LatLng(raw), []geo.LatLng(got))
	assert.Empty(t, svc.sizes)
}

func TestSnapAsync(t *testing.T) {
	a := NewAdapter(&echoService{}, timeutil.NewMockClock(time.Unix(0, 0)))
	done := make(chan Geometry, 1)
	a.SnapAsync(context.Background(), line(3), func(g Geometry) { done <- g })

	select {
	case g := <-done:
		assert.Len(t, g, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("SnapAsync did not complete")
	}
}

func TestSyncedIndex(t *testing.T) {
	tests := []struct {
		i, trackLen, geomLen, want int
	}{
		{0, 100, 250, 0},
		{50, 100, 250, 125},
		{99, 100, 250, 247},
		{100, 100, 250, 249},
		{1000, 100, 250, 249},
		{-5, 100, 250, 0},
		{3, 10, 5, 1},
		{9, 10, 5, 4},
		{5, 0, 10, 0},
		{5, 10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SyncedIndex(tt.i, tt.trackLen, tt.geomLen), "SyncedIndex(%d,%d,%d)", tt.i, tt.trackLen, tt.geomLen)
	}
}

func TestOSRMClient_Snap(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"code":"Ok","matchings":[
		{"geometry":{"type":"LineString","coordinates":[[7.0,45.0],[7.001,45.0001]]}},
		{"geometry":{"type":"LineString","coordinates":[[7.002,45.0002]]}}]}`)

	c := &OSRMClient{BaseURL: "http://osrm.local/", Client: mock}
	got, err := c.Snap(context.Background(), []geo.LatLng{{Lat: 45, Lng: 7}, {Lat: 45.0001, Lng: 7.001}})
	require.NoError(t, err)
	assert.Equal(t, []geo.LatLng{
		{Lat: 45, Lng: 7},
		{Lat: 45.0001, Lng: 7.001},
		{Lat: 45.0002, Lng: 7.002},
	}, got)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "/match/v1/driving/7.000000,45.000000;7.001000,45.000100", req.URL.Path)
	assert.Equal(t, "geojson", req.URL.Query().Get("geometries"))
}

func TestOSRMClient_Errors(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"code":"NoMatch","message":"Could not match the trace."}`)
	mock.AddResponse(http.StatusBadGateway, ``)
	mock.AddResponse(http.StatusOK, `{"code":"Ok","matchings":[]}`)

	c := &OSRMClient{BaseURL: "http://osrm.local", Profile: "car", Client: mock}
	pts := line(2)

	_, err := c.Snap(context.Background(), pts)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = c.Snap(context.Background(), pts)
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)

	_, err = c.Snap(context.Background(), pts)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, mock.GetRequest(0).URL.Path, "/match/v1/car/")
}
