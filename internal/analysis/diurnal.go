package analysis

import "github.com/kiranshivaraju/fleetsignal/pkg/models"

const (
	daySeconds     = 86400
	profileBinSize = 3600
)

// Autocorrelation correlates a series with itself shifted by lag seconds.
func Autocorrelation(s Series, lag int64, minOverlap int) (float64, bool) {
	pairs := Align(s, s, lag)
	if len(pairs) < minOverlap {
		return 0, false
	}
	return PearsonPairs(pairs)
}

// HasDiurnalCycle reports whether the series repeats strongly every 24 hours.
func HasDiurnalCycle(s Series, p Policy) bool {
	r, ok := Autocorrelation(s, daySeconds, p.MinOverlap)
	return ok && r >= p.DiurnalAutocorrThreshold
}

// TimeOfDayProfile replaces every bucket value with the mean of all buckets
// sharing its hour of day (or its own interval, when coarser than an hour).
func TimeOfDayProfile(s Series) Series {
	bin := int64(profileBinSize)
	if s.Interval > bin {
		bin = s.Interval
	}
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, p := range s.Points {
		k := FloorTo(p.Timestamp, daySeconds)
		k = FloorTo(p.Timestamp-k, bin)
		sums[k] += p.Value
		counts[k]++
	}
	out := Series{Interval: s.Interval, Points: make([]models.Point, len(s.Points))}
	for i, p := range s.Points {
		k := FloorTo(p.Timestamp-FloorTo(p.Timestamp, daySeconds), bin)
		p.Value = sums[k] / float64(counts[k])
		out.Points[i] = p
	}
	return out
}

// DiurnalBaseline is the correlation explained by time of day alone: both
// series reduced to their daily profiles and aligned at the same lag.
func DiurnalBaseline(focus, candidate Series, lag int64, minOverlap int) (float64, bool) {
	pairs := Align(TimeOfDayProfile(focus), TimeOfDayProfile(candidate), lag)
	if len(pairs) < minOverlap {
		return 0, false
	}
	return PearsonPairs(pairs)
}
