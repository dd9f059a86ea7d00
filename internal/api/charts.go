package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/replay"
	"github.com/banshee-data/fleettrack/internal/units"
)

// handleReplayChart renders the speed profile of the open replay as an
// HTML page, with the cursor marked.
func (s *Server) handleReplayChart(w http.ResponseWriter, r *http.Request) {
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
	page, err := speedChart(p.Track(), p.Cursor(), unit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	httputil.WriteBody(w, http.StatusOK, "text/html; charset=utf-8", page)
}

func speedChart(track replay.Track, cursor replay.Cursor, unit string) ([]byte, error) {
	n := track.Len()
	xs := make([]string, n)
	data := make([]opts.LineData, n)
	start := track.At(0).Timestamp()
	for i := 0; i < n; i++ {
		rep := track.At(i)
		xs[i] = strconv.FormatFloat(rep.Timestamp().Sub(start).Seconds(), 'f', 0, 64)
		data[i] = opts.LineData{Value: units.ConvertSpeed(rep.Speed, unit)}
	}
	sum := track.Summarize()

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Replay speed profile", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed profile " + track.EntityID(),
			Subtitle: fmt.Sprintf("reports=%d distance=%.2fkm max=%.0f%s", n, sum.DistanceKm, units.ConvertSpeed(sum.MaxSpeed, unit), units.Label(unit)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: units.Label(unit)}),
	)
	line.SetXAxis(xs).AddSeries("speed", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithMarkLineNameXAxisItemOpts(opts.MarkLineNameXAxisItem{Name: "cursor", XAxis: xs[cursor.Index]}),
	)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleReplayPlot renders the raw route, the snapped route and the cursor
// as a PNG.
func (s *Server) handleReplayPlot(w http.ResponseWriter, r *http.Request) {
	p, err := s.sess.Replay()
	if err != nil {
		writeError(w, err)
		return
	}
	frame := p.Frame()
	plt, err := routePlot(p.Track(), p.Geometry(), frame)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build plot: %v", err), http.StatusInternalServerError)
		return
	}
	wt, err := plt.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		logf("plot write: %v", err)
	}
}

func xys(coords []geo.LatLng) plotter.XYs {
	out := make(plotter.XYs, len(coords))
	for i, c := range coords {
		out[i] = plotter.XY{X: c.Lng, Y: c.Lat}
	}
	return out
}

func routePlot(track replay.Track, geometry []geo.LatLng, frame replay.Frame) (*plot.Plot, error) {
	plt := plot.New()
	plt.Title.Text = "Replay " + track.EntityID()
	plt.X.Label.Text = "longitude"
	plt.Y.Label.Text = "latitude"

	raw, err := plotter.NewLine(xys(track.Coords()))
	if err != nil {
		return nil, err
	}
	raw.Width = vg.Points(1)
	raw.Color = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	raw.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	plt.Add(raw)
	plt.Legend.Add("raw", raw)

	if len(geometry) > 1 {
		snapped, err := plotter.NewLine(xys(geometry))
		if err != nil {
			return nil, err
		}
		snapped.Width = vg.Points(2)
		snapped.Color = color.RGBA{R: 33, G: 113, B: 181, A: 255}
		plt.Add(snapped)
		plt.Legend.Add("snapped", snapped)
	}

	cur := frame.Report.LatLng()
	if frame.Snapped != nil {
		cur = *frame.Snapped
	}
	marker, err := plotter.NewScatter(xys([]geo.LatLng{cur}))
	if err != nil {
		return nil, err
	}
	marker.GlyphStyle.Radius = vg.Points(4)
	marker.GlyphStyle.Color = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	plt.Add(marker)
	plt.Legend.Add(fmt.Sprintf("cursor %d/%d", frame.Index, frame.Len), marker)
	return plt, nil
}
