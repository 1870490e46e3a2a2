package analysis

import (
	"math"
	"sort"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Series is a bucketed time series on a fixed grid of Interval seconds.
type Series struct {
	Interval int64
	Points   []models.Point
}

// NewSeries sorts the points by timestamp and drops empty buckets.
func NewSeries(interval int64, points []models.Point) Series {
	kept := make([]models.Point, 0, len(points))
	for _, p := range points {
		if p.Count <= 0 || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		kept = append(kept, p)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Timestamp < kept[j].Timestamp })
	return Series{Interval: interval, Points: kept}
}

// Len returns the number of non-empty buckets.
func (s Series) Len() int { return len(s.Points) }

// Values returns the bucket values in timestamp order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Index maps each bucket start to its value.
func (s Series) Index() map[int64]float64 {
	idx := make(map[int64]float64, len(s.Points))
	for _, p := range s.Points {
		idx[FloorTo(p.Timestamp, s.Interval)] = p.Value
	}
	return idx
}

// Between returns the points whose bucket start lies in [start, end).
func (s Series) Between(start, end int64) Series {
	lo := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Timestamp >= start })
	hi := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Timestamp >= end })
	return Series{Interval: s.Interval, Points: s.Points[lo:hi]}
}

// FloorTo rounds epoch down onto a grid of step seconds. It is correct for
// negative epochs, where integer division would round toward zero.
func FloorTo(epoch, step int64) int64 {
	if step <= 1 {
		return epoch
	}
	r := epoch % step
	if r < 0 {
		r += step
	}
	return epoch - r
}

// Pair is one aligned observation: the focus bucket at Timestamp and the
// candidate bucket covering Timestamp - lag.
type Pair struct {
	Timestamp int64   `json:"ts"`
	Focus     float64 `json:"focus"`
	Candidate float64 `json:"candidate"`
}

// Align pairs every focus bucket with the candidate bucket that contains
// focus_epoch - lag, snapped to the candidate's own grid.
func Align(focus, candidate Series, lag int64) []Pair {
	return alignIndexed(focus, candidate.Index(), candidate.Interval, lag)
}

func alignIndexed(focus Series, cand map[int64]float64, candInterval, lag int64) []Pair {
	pairs := make([]Pair, 0, len(focus.Points))
	for _, p := range focus.Points {
		v, ok := cand[FloorTo(p.Timestamp-lag, candInterval)]
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Timestamp: p.Timestamp, Focus: p.Value, Candidate: v})
	}
	return pairs
}

// LagSteps returns the lags to search, ordered by increasing magnitude with
// the positive lag first at each step. Every lag is a multiple of interval and
// at most maxSteps steps are taken on each side.
func LagSteps(interval, maxLag int64, maxSteps int) []int64 {
	if interval <= 0 || maxLag < interval {
		return []int64{0}
	}
	step := interval
	if maxSteps > 0 && maxLag/step > int64(maxSteps) {
		n := (maxLag + int64(maxSteps)*interval - 1) / (int64(maxSteps) * interval)
		step = n * interval
	}
	lags := []int64{0}
	for l := step; l <= maxLag; l += step {
		lags = append(lags, l, -l)
	}
	return lags
}
