package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func focusFor(t *testing.T, s Series, p Policy) *Focus {
	t.Helper()
	last := s.Points[len(s.Points)-1].Timestamp
	return PrepareFocus("focus", s, s.Points[0].Timestamp, last+s.Interval, 0, p)
}

func TestScore_IdenticalSeriesIsHighConfidence(t *testing.T) {
	p := DefaultPolicy()
	s := series(0, 60, steppedNoise(500, 1))
	f := focusFor(t, s, p)

	out := Score(f, "twin", s, LagSteps(60, 3600, p.MaxLagSteps), p)
	require.False(t, out.Excluded)
	rec := out.Record
	assert.Equal(t, int64(0), rec.LagSeconds)
	assert.InDelta(t, 1.0, rec.Correlation, 1e-9)
	assert.Equal(t, models.RelationshipInPhase, rec.Relationship)
	assert.Equal(t, 4, rec.CooccurrenceCount)
	assert.InDelta(t, 1.0, rec.EventsOverlap, 1e-9)
	assert.InDelta(t, 1.0, rec.CoverageFraction, 1e-9)
	assert.False(t, rec.LowCoverage)
	assert.False(t, rec.DiurnalPenaltyApplied)
	assert.InDelta(t, 1.0, rec.BlendedScore, 1e-9)
	assert.Equal(t, models.TierHigh, rec.ConfidenceTier)
}

func TestScore_InverseRelationship(t *testing.T) {
	p := DefaultPolicy()
	vals := steppedNoise(500, 2)
	inv := make([]float64, len(vals))
	for i, v := range vals {
		inv[i] = -v
	}
	f := focusFor(t, series(0, 60, vals), p)

	out := Score(f, "mirror", series(0, 60, inv), LagSteps(60, 3600, p.MaxLagSteps), p)
	assert.Equal(t, models.RelationshipInverse, out.Record.Relationship)
	assert.InDelta(t, -1.0, out.Record.Correlation, 1e-9)
	assert.InDelta(t, 1.0, out.Record.CorrelationMagnitude, 1e-9)
	assert.Equal(t, models.TierHigh, out.Record.ConfidenceTier)
}

func TestScore_LowCoverageIsFlaggedAndDownWeighted(t *testing.T) {
	p := DefaultPolicy()
	vals := steppedNoise(500, 3)
	full := series(0, 60, vals)
	f := focusFor(t, full, p)

	sparse := Series{Interval: 60}
	for i, pt := range full.Points {
		if i%5 == 0 {
			sparse.Points = append(sparse.Points, pt)
		}
	}

	lags := []int64{0}
	fullOut := Score(f, "full", full, lags, p)
	sparseOut := Score(f, "sparse", sparse, lags, p)

	assert.InDelta(t, 0.2, sparseOut.Record.CoverageFraction, 1e-9)
	assert.True(t, sparseOut.Record.LowCoverage)
	assert.False(t, sparseOut.Excluded)
	assert.Less(t, sparseOut.Record.BlendedScore, fullOut.Record.BlendedScore)

	p.ExcludeLowCoverage = true
	excluded := Score(f, "sparse", sparse, lags, p)
	assert.True(t, excluded.Excluded)
	assert.Equal(t, ReasonLowCoverage, excluded.Reason)
}

func TestScore_DiurnalPenalty(t *testing.T) {
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(9))
	const interval = 600
	n := 4 * 86400 / interval
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i*interval) / 86400
		a[i] = math.Sin(phase) + 0.05*rng.NormFloat64()
		b[i] = math.Sin(phase) + 0.05*rng.NormFloat64()
	}
	f := focusFor(t, series(0, interval, a), p)
	require.True(t, f.Diurnal)

	out := Score(f, "sun-follower", series(0, interval, b), LagSteps(interval, 3600, p.MaxLagSteps), p)
	assert.True(t, out.Record.DiurnalPenaltyApplied)
	assert.Greater(t, out.Record.CorrelationMagnitude, 0.9)
	assert.Less(t, out.Record.BlendedScore, p.WeightCorrelation*out.Record.CorrelationMagnitude+p.WeightEvents+p.WeightCoverage)
}

func TestScore_DailyRainfallAgainstHourlyReservoir(t *testing.T) {
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(11))
	const days = 30
	rain := make([]float64, days)
	for d := range rain {
		if rng.Float64() < 0.4 {
			rain[d] = 0
			continue
		}
		rain[d] = rng.Float64() * 10
	}
	level := make([]float64, days*24)
	for h := range level {
		level[h] = 100 + 3*rain[h/24] + 0.1*rng.NormFloat64()
	}

	reservoir := series(0, 3600, level)
	rainfall := series(0, 86400, rain)
	f := PrepareFocus("reservoir", reservoir, 0, days*86400, 0, p)

	out := Score(f, "rainfall", rainfall, LagSteps(3600, p.MaxLagSeconds, p.MaxLagSteps), p)
	require.False(t, out.Excluded)
	assert.Equal(t, int64(0), out.Record.LagSeconds)
	assert.InDelta(t, 1.0, out.Record.CoverageFraction, 1e-9)
	assert.False(t, out.Record.LowCoverage)
	assert.Greater(t, out.Record.Correlation, 0.95)
	assert.GreaterOrEqual(t, out.Record.BlendedScore, p.TierMedium)
}

func TestCoverage_StopsAtWatermark(t *testing.T) {
	cand := series(0, 600, []float64{1, 2, 3, 4, 5})
	// Window covers ten buckets but only the first five exist before the watermark.
	assert.InDelta(t, 1.0, Coverage(cand, 0, 6000, 3000, 0), 1e-9)
	assert.InDelta(t, 0.5, Coverage(cand, 0, 6000, 0, 0), 1e-9)
	assert.Zero(t, Coverage(cand, 6000, 6000, 0, 0))
}

func TestPolicy_TierMonotonic(t *testing.T) {
	p := DefaultPolicy()
	rank := map[string]int{models.TierLow: 0, models.TierMedium: 1, models.TierHigh: 2}
	prev := -1
	for i := 0; i <= 100; i++ {
		r := rank[p.Tier(float64(i)/100)]
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
	assert.Equal(t, models.TierHigh, p.Tier(0.8))
	assert.Equal(t, models.TierMedium, p.Tier(0.5))
	assert.Equal(t, models.TierLow, p.Tier(0.49))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.WeightEvents = 0.9
	p.TierMedium = 0.9
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights")
	assert.Contains(t, err.Error(), "tiers")
}
