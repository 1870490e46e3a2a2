package analysis

import "github.com/kiranshivaraju/fleetsignal/pkg/models"

// SeriesPreview is a chart-ready pairing of the focus and one candidate.
// When too few buckets align, Raw carries the unshifted candidate series instead.
type SeriesPreview struct {
	FocusSensorID     string         `json:"focus_sensor_id"`
	CandidateSensorID string         `json:"candidate_sensor_id"`
	LagSeconds        int64          `json:"lag_seconds"`
	Points            []Pair         `json:"points"`
	Raw               []models.Point `json:"raw,omitempty"`
	FallbackUsed      bool           `json:"fallback_used"`
}

// BuildSeriesPreview aligns the candidate onto the focus grid at lag.
func BuildSeriesPreview(focusID, candidateID string, focus, cand Series, lag int64, minPoints int) SeriesPreview {
	out := SeriesPreview{
		FocusSensorID:     focusID,
		CandidateSensorID: candidateID,
		LagSeconds:        lag,
		Points:            Align(focus, cand, lag),
	}
	if len(out.Points) < minPoints {
		out.FallbackUsed = true
		out.Raw = append([]models.Point{}, cand.Points...)
	}
	return out
}
