package models

const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

const (
	RelationshipInPhase = "in_phase"
	RelationshipInverse = "inverse"
)

// ScoreRecord is the explainable score of one candidate against the focus series.
// LagSeconds > 0 means the candidate moves before the focus.
type ScoreRecord struct {
	CandidateID           string  `json:"candidate_id"`
	LagSeconds            int64   `json:"lag_seconds"`
	Correlation           float64 `json:"correlation"`
	CorrelationMagnitude  float64 `json:"correlation_magnitude"`
	Relationship          string  `json:"relationship"`
	Overlap               int     `json:"overlap"`
	CooccurrenceCount     int     `json:"cooccurrence_count"`
	EventsOverlap         float64 `json:"events_overlap"`
	CoverageFraction      float64 `json:"coverage_fraction"`
	LowCoverage           bool    `json:"low_coverage"`
	DiurnalPenaltyApplied bool    `json:"diurnal_penalty_applied"`
	BlendedScore          float64 `json:"blended_score"`
	ConfidenceTier        string  `json:"confidence_tier"`
}

// SkippedCandidate records a candidate that could not be scored and why.
type SkippedCandidate struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}
