package analysis

import (
	"math"
	"sort"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// madScale converts a median absolute deviation into a standard-normal z-score.
const madScale = 0.6745

// DetectEpisodes flags bucket-to-bucket changes whose robust z-score exceeds
// threshold and merges consecutive flagged changes into episodes.
func DetectEpisodes(s Series, threshold float64) []models.Episode {
	if len(s.Points) < 3 {
		return nil
	}
	deltas := make([]float64, len(s.Points)-1)
	for i := 1; i < len(s.Points); i++ {
		deltas[i-1] = s.Points[i].Value - s.Points[i-1].Value
	}

	med := median(deltas)
	dev := make([]float64, len(deltas))
	for i, d := range deltas {
		dev[i] = math.Abs(d - med)
	}
	mad := median(dev)
	scale := madScale / mad
	if mad == 0 {
		// Mostly flat series: fall back to mean absolute deviation.
		var sum float64
		for _, d := range dev {
			sum += d
		}
		meanAD := sum / float64(len(dev))
		if meanAD == 0 {
			return nil
		}
		scale = 1 / (1.2533 * meanAD)
	}

	var episodes []models.Episode
	var cur *models.Episode
	for i, d := range deltas {
		z := (d - med) * scale
		if math.Abs(z) <= threshold {
			if cur != nil {
				episodes = append(episodes, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &models.Episode{Start: s.Points[i].Timestamp}
		}
		cur.End = s.Points[i+1].Timestamp
		cur.Magnitude += d
	}
	if cur != nil {
		episodes = append(episodes, *cur)
	}
	return episodes
}

// Cooccurrence counts focus episodes whose lag-shifted span overlaps a
// candidate episode, widened by tolerance seconds on each side.
func Cooccurrence(focus, candidate []models.Episode, lag, tolerance int64) (count int, overlap float64) {
	if len(focus) == 0 {
		return 0, 0
	}
	for _, fe := range focus {
		start, end := fe.Start-lag, fe.End-lag
		for _, ce := range candidate {
			if start <= ce.End+tolerance && ce.Start-tolerance <= end {
				count++
				break
			}
		}
	}
	return count, float64(count) / float64(len(focus))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// EventMatch pairs a focus episode with the nearest candidate episode.
// OffsetSeconds > 0 means the candidate episode started first.
type EventMatch struct {
	FocusStart     int64   `json:"focus_start"`
	CandidateStart int64   `json:"candidate_start"`
	OffsetSeconds  int64   `json:"offset_seconds"`
	FocusMagnitude float64 `json:"focus_magnitude"`
}

// MatchEvents finds, for every focus episode, the candidate episode whose start
// lies closest within tolerance seconds. Unmatched focus episodes are omitted.
func MatchEvents(focus, candidate []models.Episode, tolerance int64) []EventMatch {
	var matches []EventMatch
	for _, fe := range focus {
		bestIdx := -1
		var bestDist int64
		for i, ce := range candidate {
			dist := fe.Start - ce.Start
			if dist < 0 {
				dist = -dist
			}
			if dist > tolerance {
				continue
			}
			if bestIdx < 0 || dist < bestDist {
				bestIdx, bestDist = i, dist
			}
		}
		if bestIdx < 0 {
			continue
		}
		matches = append(matches, EventMatch{
			FocusStart:     fe.Start,
			CandidateStart: candidate[bestIdx].Start,
			OffsetSeconds:  fe.Start - candidate[bestIdx].Start,
			FocusMagnitude: fe.Magnitude,
		})
	}
	return matches
}

// MedianOffset returns the median lead of the candidate across matches.
func MedianOffset(matches []EventMatch) int64 {
	if len(matches) == 0 {
		return 0
	}
	offsets := make([]float64, len(matches))
	for i, m := range matches {
		offsets[i] = float64(m.OffsetSeconds)
	}
	return int64(math.Round(median(offsets)))
}
