package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/testutil"
)

func readFrame(t *testing.T, conn *websocket.Conn) replay.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var fr replay.Frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func TestReplayStream_PushesFrames(t *testing.T) {
	f := newFixture(t, newStore(t, 10))
	rec := f.do(t, http.MethodGet, "/api/replay/stream", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = f.do(t, http.MethodPost, "/api/replay/open", `{"entityId":"veh-1"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	srv := httptest.NewServer(LoggingMiddleware(f.mux))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/replay/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	assert.Equal(t, 0, readFrame(t, conn).Index, "current frame first")

	f.do(t, http.MethodPost, "/api/replay/seek", `{"index":4}`)
	assert.Equal(t, 4, readFrame(t, conn).Index)

	f.do(t, http.MethodPost, "/api/replay/play", "")
	f.clock.Advance(100 * time.Millisecond)
	fr := readFrame(t, conn)
	assert.Equal(t, 5, fr.Index)
	assert.Equal(t, replay.StatePlaying, fr.State)

	f.do(t, http.MethodPost, "/api/replay/close", "")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ignored replay.Frame
		if err = conn.ReadJSON(&ignored); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
