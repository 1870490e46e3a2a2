package analysis

import "math"

// shapeCheckEvery is how many windows are compared between checkpoints.
const shapeCheckEvery = 512

// ZNormalize rescales xs to zero mean and unit variance.
func ZNormalize(xs []float64) ([]float64, bool) {
	if len(xs) == 0 {
		return nil, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(ss / float64(len(xs)))
	if sd == 0 {
		return nil, false
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mean) / sd
	}
	return out, true
}

// ShapeMatch is the closest window of a target series to a query shape.
type ShapeMatch struct {
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Distance float64 `json:"distance"`
}

// BestShapeMatch slides the z-normalized query over the target and returns the
// window with the smallest length-normalised euclidean distance. checkpoint is
// called periodically and aborts the search when it returns an error.
func BestShapeMatch(query []float64, target Series, checkpoint func() error) (ShapeMatch, bool, error) {
	q, ok := ZNormalize(query)
	m := len(q)
	if !ok || target.Len() < m {
		return ShapeMatch{}, false, nil
	}
	values := target.Values()

	var best ShapeMatch
	found := false
	for i := 0; i+m <= len(values); i++ {
		if checkpoint != nil && i%shapeCheckEvery == 0 {
			if err := checkpoint(); err != nil {
				return best, found, err
			}
		}
		w, ok := ZNormalize(values[i : i+m])
		if !ok {
			continue
		}
		var d float64
		for j := range w {
			diff := w[j] - q[j]
			d += diff * diff
		}
		d = math.Sqrt(d / float64(m))
		if !found || d < best.Distance {
			best = ShapeMatch{
				Start:    target.Points[i].Timestamp,
				End:      target.Points[i+m-1].Timestamp,
				Distance: d,
			}
			found = true
		}
	}
	return best, found, nil
}
