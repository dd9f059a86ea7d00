// Package testutil provides shared test fixtures: position reports, tracks
// and fake collaborators for the stream processor and snapping adapter.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/source"
)

// Epoch is the fixed start time used by fixtures and mock clocks.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Report builds a valid report for entityID at (lat, lng) with the given speed.
func Report(entityID string, lat, lng, speed float64) position.Report {
	return position.Report{
		EntityID:   entityID,
		Latitude:   lat,
		Longitude:  lng,
		Speed:      speed,
		FirmTime:   Epoch,
		ServerTime: Epoch,
	}
}

// Track builds n reports for entityID walking east along the equator, one
// per second, 0.0001 degrees apart.
func Track(entityID string, n int) []position.Report {
	out := make([]position.Report, n)
	for i := range out {
		r := Report(entityID, 0, float64(i)*0.0001, 40)
		r.FirmTime = Epoch.Add(time.Duration(i) * time.Second)
		r.ServerTime = r.FirmTime
		out[i] = r
	}
	return out
}

// Coords returns the coordinates of reports in order.
func Coords(reports []position.Report) []geo.LatLng {
	out := make([]geo.LatLng, len(reports))
	for i, r := range reports {
		out[i] = r.LatLng()
	}
	return out
}

// FakeSource is an in-memory push source whose batches and connection
// state are driven by the test.
type FakeSource struct {
	source.Hub

	mu            sync.Mutex
	ConnectErr    error
	connects      int
	disconnects   int
	connectOnDial bool
}

// NewFakeSource returns a source that reports connected as soon as Connect
// is called.
func NewFakeSource() *FakeSource {
	return &FakeSource{connectOnDial: true}
}

// NewManualFakeSource returns a source that stays disconnected until the
// test calls SetConnected.
func NewManualFakeSource() *FakeSource {
	return &FakeSource{}
}

// Connect implements source.Source.
func (s *FakeSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	if s.connectOnDial {
		s.SetConnected(true)
	}
	return nil
}

// Disconnect implements source.Source.
func (s *FakeSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.SetConnected(false)
	return nil
}

// Calls returns how many times Connect and Disconnect were called.
func (s *FakeSource) Calls() (connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.disconnects
}

// Push delivers one batch to subscribers.
func (s *FakeSource) Push(reports ...position.Report) {
	s.Publish(reports)
}

// ErrFetchFailed is returned by FakeFetcher when told to fail.
var ErrFetchFailed = errors.New("fetch failed")

// FakeFetcher returns a fixed result and counts calls.
type FakeFetcher struct {
	mu      sync.Mutex
	reports []position.Report
	fail    bool
	calls   int
}

// Set replaces the reports returned by subsequent fetches.
func (f *FakeFetcher) Set(reports ...position.Report) {
	f.mu.Lock()
	f.reports = reports
	f.mu.Unlock()
}

// Fail makes subsequent fetches fail until called with false.
func (f *FakeFetcher) Fail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// Calls returns the number of fetches made.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FetchAllCurrentPositions implements source.Fetcher.
func (f *FakeFetcher) FetchAllCurrentPositions(ctx context.Context) ([]position.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, ErrFetchFailed
	}
	return append([]position.Report(nil), f.reports...), nil
}
