package analysis

import "math"

// Pearson returns the correlation coefficient of xs and ys. ok is false when
// fewer than two pairs exist or either side has zero variance.
func Pearson(xs, ys []float64) (r float64, ok bool) {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0, false
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/float64(n), sy/float64(n)

	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	r = cov / math.Sqrt(vx*vy)
	return clamp(r, -1, 1), true
}

// PearsonPairs correlates the focus and candidate sides of aligned pairs.
func PearsonPairs(pairs []Pair) (float64, bool) {
	xs := make([]float64, len(pairs))
	ys := make([]float64, len(pairs))
	for i, p := range pairs {
		xs[i] = p.Focus
		ys[i] = p.Candidate
	}
	return Pearson(xs, ys)
}

// LagResult is the best correlation found across the searched lags.
type LagResult struct {
	Lag     int64
	R       float64
	Overlap int
}

// BestLag searches lags for the largest |r| among alignments with at least
// minOverlap pairs. Earlier lags win ties, so LagSteps ordering prefers the
// smallest shift.
func BestLag(focus, candidate Series, lags []int64, minOverlap int) (LagResult, bool) {
	idx := candidate.Index()
	var best LagResult
	found := false
	for _, lag := range lags {
		pairs := alignIndexed(focus, idx, candidate.Interval, lag)
		if len(pairs) < minOverlap {
			continue
		}
		r, ok := PearsonPairs(pairs)
		if !ok {
			continue
		}
		if !found || math.Abs(r) > math.Abs(best.R) {
			best = LagResult{Lag: lag, R: r, Overlap: len(pairs)}
			found = true
		}
	}
	return best, found
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
