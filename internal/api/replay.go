package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/units"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "no track history configured")
		return
	}
	sums, err := s.store.Summaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sums)
}

type openRequest struct {
	EntityID string    `json:"entityId"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

type openResponse struct {
	Summary replay.Summary `json:"summary"`
	Frame   replay.Frame   `json:"frame"`
}

func (s *Server) handleReplayOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" {
		httputil.BadRequest(w, "body must be {\"entityId\": \"...\", \"from\": RFC3339, \"to\": RFC3339}")
		return
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		httputil.BadRequest(w, "to must not be before from")
		return
	}
	p, err := s.sess.OpenReplay(r.Context(), req.EntityID, req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, openResponse{Summary: p.Track().Summarize(), Frame: p.Frame()})
}

func (s *Server) handleReplayClose(w http.ResponseWriter, r *http.Request) {
	s.sess.CloseReplay()
	w.WriteHeader(http.StatusNoContent)
}

// withPlayer runs fn against the open replay and responds with its frame.
func (s *Server) withPlayer(w http.ResponseWriter, fn func(p *replay.Player) error) {
	p, err := s.sess.Replay()
	if err != nil {
		writeError(w, err)
		return
	}
	if fn != nil {
		if err := fn(p); err != nil {
			writeError(w, err)
			return
		}
	}
	httputil.WriteJSONOK(w, p.Frame())
}

func (s *Server) handleReplayPlay(w http.ResponseWriter, r *http.Request) {
	s.withPlayer(w, func(p *replay.Player) error { p.Play(); return nil })
}

func (s *Server) handleReplayPause(w http.ResponseWriter, r *http.Request) {
	s.withPlayer(w, func(p *replay.Player) error { p.Pause(); return nil })
}

func (s *Server) handleReplayToggle(w http.ResponseWriter, r *http.Request) {
	s.withPlayer(w, func(p *replay.Player) error { p.Toggle(); return nil })
}

func (s *Server) handleReplaySeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		httputil.BadRequest(w, "body must be {\"index\": n}")
		return
	}
	s.withPlayer(w, func(p *replay.Player) error { p.Seek(*req.Index); return nil })
}

func (s *Server) handleReplayRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "body must be {\"rate\": x}")
		return
	}
	s.withPlayer(w, func(p *replay.Player) error { return p.SetRate(req.Rate) })
}

func (s *Server) handleReplayFrame(w http.ResponseWriter, r *http.Request) {
	s.withPlayer(w, nil)
}

type summaryResponse struct {
	replay.Summary
	Units string `json:"units"`
}

// handleReplaySummary reports track statistics, with speeds in ?units=
// (km/h by default).
func (s *Server) handleReplaySummary(w http.ResponseWriter, r *http.Request) {
	unit, err := units.Parse(r.URL.Query().Get("units"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	p, err := s.sess.Replay()
	if err != nil {
		writeError(w, err)
		return
	}
	sum := p.Track().Summarize()
	for _, v := range []*float64{&sum.MinSpeed, &sum.MaxSpeed, &sum.MeanSpeed, &sum.P95Speed} {
		*v = units.ConvertSpeed(*v, unit)
	}
	httputil.WriteJSONOK(w, summaryResponse{Summary: sum, Units: unit})
}

// handleReplayGeometry returns the raw track and, once available, the
// snapped geometry as a GeoJSON FeatureCollection.
func (s *Server) handleReplayGeometry(w http.ResponseWriter, r *http.Request) {
	p, err := s.sess.Replay()
	if err != nil {
		writeError(w, err)
		return
	}
	track := p.Track()
	fc := geojson.NewFeatureCollection()

	raw := geojson.NewFeature(lineString(track.Coords()))
	raw.Properties["kind"] = "raw"
	raw.Properties["entityId"] = track.EntityID()
	fc.Append(raw)

	if g := p.Geometry(); len(g) > 0 {
		snapped := geojson.NewFeature(lineString(g))
		snapped.Properties["kind"] = "snapped"
		snapped.Properties["entityId"] = track.EntityID()
		fc.Append(snapped)
	}
	writeGeoJSON(w, fc)
}
