package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/banshee-data/fleettrack/internal/camera"
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
)

type viewportResponse struct {
	Center   geo.LatLng          `json:"center"`
	Zoom     float64             `json:"zoom"`
	State    camera.State        `json:"state"`
	Target   camera.FollowTarget `json:"target"`
	Commands []camera.Command    `json:"commands"`
}

func (s *Server) viewport() viewportResponse {
	center, zoom := s.sess.Viewport().View()
	cam := s.sess.Camera()
	return viewportResponse{
		Center:   center,
		Zoom:     zoom,
		State:    cam.State(),
		Target:   cam.Target(),
		Commands: s.sess.Viewport().Commands(),
	}
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.viewport())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entityId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" {
		httputil.BadRequest(w, "body must be {\"entityId\": \"...\"}")
		return
	}
	if err := s.sess.Camera().Select(req.EntityID); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.viewport())
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	s.sess.Camera().EnableFollow()
	httputil.WriteJSONOK(w, s.viewport())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.sess.Camera().ClearSelection()
	httputil.WriteJSONOK(w, s.viewport())
}

// viewChange is an optional new view reported with a user or viewport event.
type viewChange struct {
	Center *geo.LatLng `json:"center"`
	Zoom   *float64    `json:"zoom"`
}

func (s *Server) applyViewChange(r *http.Request) bool {
	var vc viewChange
	if err := json.NewDecoder(r.Body).Decode(&vc); err != nil {
		return errors.Is(err, io.EOF)
	}
	if vc.Center == nil {
		return true
	}
	_, zoom := s.sess.Viewport().View()
	if vc.Zoom != nil {
		zoom = *vc.Zoom
	}
	s.sess.Viewport().Move(*vc.Center, zoom)
	return true
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if !s.applyViewChange(r) {
		httputil.BadRequest(w, "invalid view change")
		return
	}
	s.sess.Camera().HandleUserInteraction()
	httputil.WriteJSONOK(w, s.viewport())
}

func (s *Server) handleMoved(w http.ResponseWriter, r *http.Request) {
	if !s.applyViewChange(r) {
		httputil.BadRequest(w, "invalid view change")
		return
	}
	override := s.sess.Camera().HandleViewportMoved()
	httputil.WriteJSONOK(w, map[string]any{"override": override, "viewport": s.viewport()})
}
