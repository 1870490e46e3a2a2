package analysis

import (
	"math/rand"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// series builds a fully populated series on an interval grid starting at start.
func series(start, interval int64, values []float64) Series {
	pts := make([]models.Point, len(values))
	for i, v := range values {
		pts[i] = models.Point{Timestamp: start + int64(i)*interval, Value: v, Count: 1}
	}
	return Series{Interval: interval, Points: pts}
}

// steppedNoise is uniform noise in [-0.5, 0.5) plus a jump of 20 every 100 buckets.
func steppedNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64() - 0.5 + 20*float64(i/100)
	}
	return out
}
