package source

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

var wsLogf = monitoring.Component("source/ws")

// Reconnect backoff bounds for the WebSocket source.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = time.Minute
)

// WebSocket is a push source reading a Traccar-style /api/socket channel.
// After Connect it keeps the channel open, reconnecting with capped
// exponential backoff until Disconnect.
type WebSocket struct {
	Hub

	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	Clock      timeutil.Clock
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Decode     func([]byte) ([]position.Report, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebSocket returns a WebSocket source for url.
func NewWebSocket(url string, header http.Header) *WebSocket {
	return &WebSocket{URL: url, Header: header}
}

func (w *WebSocket) clock() timeutil.Clock {
	if w.Clock == nil {
		return timeutil.RealClock{}
	}
	return w.Clock
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	d := w.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, w.URL, w.Header)
	return conn, err
}

// Connect dials once and starts the read loop. A failed first dial is
// returned, and the loop keeps retrying in the background.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	conn, err := w.dial(runCtx)
	if err != nil {
		wsLogf("dial %s: %v", w.URL, err)
		conn = nil
	}
	go w.run(runCtx, conn)
	return err
}

func (w *WebSocket) run(ctx context.Context, conn *websocket.Conn) {
	defer close(w.done)
	minB, maxB := w.MinBackoff, w.MaxBackoff
	if minB <= 0 {
		minB = DefaultMinBackoff
	}
	if maxB < minB {
		maxB = DefaultMaxBackoff
	}
	backoff := minB

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-w.clock().After(backoff):
			}
			var err error
			conn, err = w.dial(ctx)
			if err != nil {
				backoff *= 2
				if backoff > maxB {
					backoff = maxB
				}
				wsLogf("dial error: %v, retrying in %v", err, backoff)
				continue
			}
		}
		backoff = minB

		c := conn
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		w.SetConnected(true)
		err := w.readLoop(c)
		w.SetConnected(false)
		stop()
		_ = c.Close()
		conn = nil

		if ctx.Err() != nil {
			return
		}
		wsLogf("read error: %v, reconnecting", err)
	}
}

func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	decode := w.Decode
	if decode == nil {
		decode = DecodeTraccarMessage
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		batch, err := decode(msg)
		if err != nil {
			wsLogf("skipping message: %v", err)
			continue
		}
		w.Publish(batch)
	}
}

// Disconnect stops the read loop, closing the connection, and waits for it
// to exit.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	w.SetConnected(false)
	return nil
}
