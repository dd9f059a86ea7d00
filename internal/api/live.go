package api

import (
	"net/http"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/render"
	"github.com/banshee-data/fleettrack/internal/session"
	"github.com/banshee-data/fleettrack/internal/version"
)

type statusResponse struct {
	Version string `json:"version"`
	Session string `json:"session"`
	State   string `json:"state"`
	Polling bool   `json:"polling"`
	Stats   any    `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	httputil.WriteJSONOK(w, statusResponse{
		Version: version.Version,
		Session: s.sess.ID(),
		State:   string(st.State),
		Polling: st.Polling,
		Stats:   s.sess.Stats(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.sess.Positions())
}

// lineString converts coordinates to GeoJSON axis order.
func lineString(coords []geo.LatLng) orb.LineString {
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c.Lng, c.Lat}
	}
	return ls
}

func writeGeoJSON(w http.ResponseWriter, v interface{ MarshalJSON() ([]byte, error) }) {
	data, err := v.MarshalJSON()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteBody(w, http.StatusOK, "application/geo+json", data)
}

func (s *Server) trailFeature(v session.EntityView, smooth int) (*geojson.Feature, error) {
	coords, err := s.sess.SmoothedTrail(v.Report.EntityID, smooth)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(lineString(coords))
	f.ID = v.Report.EntityID
	f.Properties["entityId"] = v.Report.EntityID
	f.Properties["status"] = string(v.Status)
	f.Properties["recentDistanceKm"] = v.RecentDistanceKm
	f.Properties["points"] = len(coords)
	return f, nil
}

func smoothParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("smooth")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 5 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleTrails(w http.ResponseWriter, r *http.Request) {
	smooth, ok := smoothParam(r)
	if !ok {
		httputil.BadRequest(w, "smooth must be an integer between 0 and 5")
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, v := range s.sess.Positions() {
		f, err := s.trailFeature(v, smooth)
		if err != nil {
			continue
		}
		fc.Append(f)
	}
	writeGeoJSON(w, fc)
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	smooth, ok := smoothParam(r)
	if !ok {
		httputil.BadRequest(w, "smooth must be an integer between 0 and 5")
		return
	}
	id := r.PathValue("id")
	for _, v := range s.sess.Positions() {
		if v.Report.EntityID != id {
			continue
		}
		f, err := s.trailFeature(v, smooth)
		if err != nil {
			writeError(w, err)
			return
		}
		writeGeoJSON(w, f)
		return
	}
	httputil.NotFound(w, "unknown entity: "+id)
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	icon, err := s.sess.Icon(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", icon.ETag())
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == icon.ETag() {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httputil.WriteBody(w, http.StatusOK, render.ContentType, icon.SVG)
}
