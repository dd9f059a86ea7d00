package history

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// reopening an up-to-date database is a no-op
	require.NoError(t, s.MigrateUp())
}

func TestInsertAndLoadTrack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	track := testutil.Track("veh-1", 5)
	heading := 90.0
	ignition := true
	track[2].Heading = &heading
	track[2].Attributes.Ignition = &ignition
	other := testutil.Report("veh-2", 1, 1, 10)
	bad := testutil.Report("", 1, 1, 0)

	n, err := s.InsertReports(ctx, append(append([]position.Report{}, track...), other, bad))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = s.InsertReports(ctx, track[:2])
	require.NoError(t, err)
	assert.Zero(t, n, "duplicates are ignored")

	got, err := s.LoadTrack(ctx, "veh-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 5, got.Len())
	for i := 0; i < 5; i++ {
		assert.Equal(t, track[i].FirmTime, got.At(i).FirmTime)
		assert.Equal(t, track[i].Longitude, got.At(i).Longitude)
	}
	require.NotNil(t, got.At(2).Heading)
	assert.Equal(t, 90.0, *got.At(2).Heading)
	require.NotNil(t, got.At(2).Attributes.Ignition)
	assert.True(t, *got.At(2).Attributes.Ignition)
	assert.Nil(t, got.At(1).Heading)
}

func TestLoadTrack_Range(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	track := testutil.Track("veh-1", 10)
	_, err := s.InsertReports(ctx, track)
	require.NoError(t, err)

	got, err := s.LoadTrack(ctx, "veh-1", track[3].FirmTime, track[6].FirmTime)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
	assert.Equal(t, track[3].FirmTime, got.At(0).FirmTime)

	_, err = s.LoadTrack(ctx, "veh-1", track[9].FirmTime.Add(time.Hour), time.Time{})
	assert.ErrorIs(t, err, ErrNoReports)
	_, err = s.LoadTrack(ctx, "nobody", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoReports)
}

func TestSummariesAndImports(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := testutil.Track("a", 3)
	_, err := s.InsertReports(ctx, append(a, testutil.Report("b", 0, 0, 0)))
	require.NoError(t, err)

	sums, err := s.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, TrackSummary{EntityID: "a", Reports: 3, First: a[0].FirmTime, Last: a[2].FirmTime}, sums[0])
	assert.Equal(t, "b", sums[1].EntityID)

	require.NoError(t, s.RecordImport(ctx, "a", "ride.gpx", 3))
	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM imports`).Scan(&count))
	assert.Equal(t, 1, count)
}

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><name>ride</name><trkseg>
    <trkpt lat="0" lon="0"><time>2026-03-01T12:00:00Z</time></trkpt>
    <trkpt lat="0" lon="0.001"><time>2026-03-01T12:00:10Z</time></trkpt>
    <trkpt lat="0.001" lon="0.001"><time>2026-03-01T12:00:20Z</time></trkpt>
  </trkseg></trk>
</gpx>`

func TestImportGPX(t *testing.T) {
	got, err := ImportGPX(strings.NewReader(sampleGPX), "bike")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "bike", got[0].EntityID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC), got[1].FirmTime)
	assert.Zero(t, got[0].Speed)
	assert.Nil(t, got[0].Heading)

	// 0.001 deg of longitude at the equator is ~111 m; in 10 s that is ~40 km/h
	assert.InDelta(t, 40.0, got[1].Speed, 0.5)
	require.NotNil(t, got[1].Heading)
	assert.InDelta(t, 90.0, *got[1].Heading, 1e-6)
	require.NotNil(t, got[2].Heading)
	assert.InDelta(t, 0.0, *got[2].Heading, 1e-6)

	_, err = ImportGPX(strings.NewReader(`<gpx version="1.1"></gpx>`), "bike")
	assert.ErrorIs(t, err, ErrNoTrackPoints)
	_, err = ImportGPX(strings.NewReader(`not xml`), "bike")
	assert.Error(t, err)
}

func TestAdminRoutes_Backup(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertReports(context.Background(), testutil.Track("a", 2))
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "SQLite format 3"))
}
