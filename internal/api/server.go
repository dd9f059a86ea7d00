// Package api exposes a session over HTTP: live positions, trails as
// GeoJSON, icons, camera follow commands, replay control and charts.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/fleettrack/internal/camera"
	"github.com/banshee-data/fleettrack/internal/history"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/session"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server serves one session.
type Server struct {
	sess  *session.Session
	store *history.Store
}

// NewServer returns a server for sess. store may be nil, which disables the
// history listing and the SQL console.
func NewServer(sess *session.Session, store *history.Store) *Server {
	return &Server{sess: sess, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/trails", s.handleTrails)
	mux.HandleFunc("GET /api/trails/{id}", s.handleTrail)
	mux.HandleFunc("GET /api/render/{id}", s.handleIcon)

	mux.HandleFunc("GET /api/viewport", s.handleViewport)
	mux.HandleFunc("POST /api/follow/select", s.handleSelect)
	mux.HandleFunc("POST /api/follow/auto", s.handleAuto)
	mux.HandleFunc("POST /api/follow/clear", s.handleClear)
	mux.HandleFunc("POST /api/follow/interaction", s.handleInteraction)
	mux.HandleFunc("POST /api/follow/moved", s.handleMoved)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/replay/open", s.handleReplayOpen)
	mux.HandleFunc("POST /api/replay/close", s.handleReplayClose)
	mux.HandleFunc("POST /api/replay/play", s.handleReplayPlay)
	mux.HandleFunc("POST /api/replay/pause", s.handleReplayPause)
	mux.HandleFunc("POST /api/replay/toggle", s.handleReplayToggle)
	mux.HandleFunc("POST /api/replay/seek", s.handleReplaySeek)
	mux.HandleFunc("POST /api/replay/rate", s.handleReplayRate)
	mux.HandleFunc("GET /api/replay/frame", s.handleReplayFrame)
	mux.HandleFunc("GET /api/replay/stream", s.handleReplayStream)
	mux.HandleFunc("GET /api/replay/summary", s.handleReplaySummary)
	mux.HandleFunc("GET /api/replay/geometry", s.handleReplayGeometry)
	mux.HandleFunc("GET /api/replay/chart", s.handleReplayChart)
	mux.HandleFunc("GET /api/replay/plot.png", s.handleReplayPlot)
	return mux
}

// AttachAdminRoutes mounts the /debug/ pages.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	if s.store == nil {
		return nil
	}
	return s.store.AttachAdminRoutes(mux)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownEntity),
		errors.Is(err, camera.ErrUnknownEntity),
		errors.Is(err, history.ErrNoReports):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, session.ErrNoReplay):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, replay.ErrInvalidRate), errors.Is(err, replay.ErrEmptyTrack):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, session.ErrReplayUnavailable):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

var logf = monitoring.Component("api")
