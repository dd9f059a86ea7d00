package replay

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// Summary describes a track as a whole.
type Summary struct {
	EntityID   string        `json:"entityId"`
	Reports    int           `json:"reports"`
	DistanceKm float64       `json:"distanceKm"`
	Duration   time.Duration `json:"duration"`
	MinSpeed   float64       `json:"minSpeed"`
	MaxSpeed   float64       `json:"maxSpeed"`
	MeanSpeed  float64       `json:"meanSpeed"`
	P95Speed   float64       `json:"p95Speed"`
}

// Speeds returns the reported speed of every report in order.
func (t Track) Speeds() []float64 {
	out := make([]float64, len(t.reports))
	for i, r := range t.reports {
		out[i] = r.Speed
	}
	return out
}

// Summarize computes distance, duration and speed statistics.
func (t Track) Summarize() Summary {
	s := Summary{EntityID: t.EntityID(), Reports: t.Len()}
	if t.Len() == 0 {
		return s
	}
	s.DistanceKm = geo.PathLengthKm(t.Coords())
	s.Duration = t.At(t.Len() - 1).Timestamp().Sub(t.At(0).Timestamp())

	speeds := t.Speeds()
	s.MinSpeed = floats.Min(speeds)
	s.MaxSpeed = floats.Max(speeds)
	s.MeanSpeed = stat.Mean(speeds, nil)

	sorted := append([]float64(nil), speeds...)
	floats.Argsort(sorted, make([]int, len(sorted)))
	s.P95Speed = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}
