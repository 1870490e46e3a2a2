package analysis

import (
	"math"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Skip reasons recorded on candidates that do not receive a score.
const (
	ReasonLowCoverage = "low_coverage"
	ReasonReadFailed  = "read_failed"
	ReasonNoData      = "no_data"
)

// Focus is the focus series plus everything derived from it once per job.
// Window bounds and watermark are unix seconds; a zero watermark means unbounded.
type Focus struct {
	SensorID    string
	Series      Series
	Episodes    []models.Episode
	Diurnal     bool
	WindowStart int64
	WindowEnd   int64
	Watermark   int64
}

// PrepareFocus detects episodes and the daily cycle on the focus series.
func PrepareFocus(sensorID string, s Series, start, end, watermark int64, p Policy) *Focus {
	return &Focus{
		SensorID:    sensorID,
		Series:      s,
		Episodes:    DetectEpisodes(s, p.EpisodeZThreshold),
		Diurnal:     HasDiurnalCycle(s, p),
		WindowStart: start,
		WindowEnd:   end,
		Watermark:   watermark,
	}
}

// Outcome is the result of scoring one candidate. Excluded outcomes carry a
// reason instead of a usable record.
type Outcome struct {
	Record   models.ScoreRecord
	Excluded bool
	Reason   string
}

// Score evaluates one candidate series against the focus.
func Score(f *Focus, candidateID string, cand Series, lags []int64, p Policy) Outcome {
	rec := models.ScoreRecord{CandidateID: candidateID, Relationship: models.RelationshipInPhase}

	best, ok := BestLag(f.Series, cand, lags, p.MinOverlap)
	if ok {
		rec.LagSeconds = best.Lag
		rec.Correlation = best.R
		rec.Overlap = best.Overlap
	} else {
		rec.Overlap = len(Align(f.Series, cand, 0))
	}
	rec.CorrelationMagnitude = math.Abs(rec.Correlation)
	if rec.Correlation < 0 {
		rec.Relationship = models.RelationshipInverse
	}

	candEpisodes := DetectEpisodes(cand, p.EpisodeZThreshold)
	rec.CooccurrenceCount, rec.EventsOverlap = Cooccurrence(f.Episodes, candEpisodes, rec.LagSeconds, cand.Interval)

	rec.CoverageFraction = Coverage(cand, f.WindowStart, f.WindowEnd, f.Watermark, rec.LagSeconds)

	corr := rec.CorrelationMagnitude
	if ok && f.Diurnal && HasDiurnalCycle(cand, p) {
		base, baseOK := DiurnalBaseline(f.Series, cand, rec.LagSeconds, p.MinOverlap)
		if baseOK && rec.CorrelationMagnitude-math.Abs(base) < p.DiurnalMargin {
			corr *= p.DiurnalPenalty
			rec.DiurnalPenaltyApplied = true
		}
	}

	blended := p.WeightCorrelation*corr + p.WeightEvents*rec.EventsOverlap + p.WeightCoverage*rec.CoverageFraction
	if rec.CoverageFraction < p.CoverageFloor {
		rec.LowCoverage = true
		if p.ExcludeLowCoverage {
			return Outcome{Record: rec, Excluded: true, Reason: ReasonLowCoverage}
		}
		blended *= rec.CoverageFraction / p.CoverageFloor
	}
	rec.BlendedScore = clamp(blended, 0, 1)
	rec.ConfidenceTier = p.Tier(rec.BlendedScore)
	return Outcome{Record: rec}
}

// Coverage is the fraction of candidate buckets present in the lag-shifted
// window, counted on the candidate's own grid and only up to the watermark.
func Coverage(cand Series, start, end, watermark, lag int64) float64 {
	if watermark > 0 && watermark < end {
		end = watermark
	}
	cs, ce := start-lag, end-lag
	if watermark > 0 && ce > watermark {
		ce = watermark
	}
	if ce <= cs {
		return 0
	}
	step := cand.Interval
	if step <= 0 {
		step = 1
	}
	first := FloorTo(cs, step)
	last := FloorTo(ce-1, step)
	expected := (last-first)/step + 1

	seen := make(map[int64]struct{})
	for _, p := range cand.Points {
		b := FloorTo(p.Timestamp, step)
		if b >= first && b <= last {
			seen[b] = struct{}{}
		}
	}
	return clamp(float64(len(seen))/float64(expected), 0, 1)
}
