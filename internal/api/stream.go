package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/fleettrack/internal/replay"
)

const (
	streamWriteWait = 5 * time.Second
	streamBuffer    = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleReplayStream pushes every frame of the open replay over a websocket
// until the replay is closed or replaced, or the client goes away. The first
// message is the current frame.
func (s *Server) handleReplayStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.sess.Replay()
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("replay stream upgrade: %v", err)
		return
	}
	defer conn.Close()

	frames := make(chan replay.Frame, streamBuffer)
	unsubscribe := p.OnFrame(func(f replay.Frame) {
		select {
		case frames <- f:
		default:
			// Slow client; it catches up on the next frame.
		}
	})
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(f replay.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(f)
	}
	if err := send(p.Frame()); err != nil {
		return
	}
	for {
		select {
		case f := <-frames:
			if err := send(f); err != nil {
				logf("replay stream write: %v", err)
				return
			}
		case <-p.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay closed")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
