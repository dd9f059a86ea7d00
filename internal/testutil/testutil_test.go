package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/position"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/positions")
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/positions", req.URL.Path)

	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestTrack(t *testing.T) {
	t.Parallel()

	tr := Track("E1", 3)
	require.Len(t, tr, 3)
	for _, r := range tr {
		require.NoError(t, r.Validate())
	}
	assert.InDelta(t, 0.0002, tr[2].Longitude, 1e-12)
	assert.True(t, tr[2].FirmTime.After(tr[1].FirmTime))
	assert.Len(t, Coords(tr), 3)
}

func TestFakeSource(t *testing.T) {
	t.Parallel()

	s := NewFakeSource()
	var got [][]position.Report
	unsub := s.Subscribe(func(b []position.Report) { got = append(got, b) })

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())

	s.Push(Report("E1", 1, 2, 0))
	unsub()
	unsub()
	s.Push(Report("E1", 3, 4, 0))
	require.Len(t, got, 1)
	assert.Equal(t, 0, s.Subscribers())

	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
	c, d := s.Calls()
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, d)
}

func TestFakeFetcher(t *testing.T) {
	t.Parallel()

	var f FakeFetcher
	f.Set(Report("E1", 0, 0, 0))
	got, err := f.FetchAllCurrentPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	f.Fail(true)
	_, err = f.FetchAllCurrentPositions(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, 2, f.Calls())
}
