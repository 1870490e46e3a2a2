package analysis

import (
	"testing"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank_OrdersByScoreThenCoverageThenID(t *testing.T) {
	recs := []models.ScoreRecord{
		{CandidateID: "c", BlendedScore: 0.5, CoverageFraction: 0.9},
		{CandidateID: "b", BlendedScore: 0.7, CoverageFraction: 0.5},
		{CandidateID: "a", BlendedScore: 0.5, CoverageFraction: 0.9},
		{CandidateID: "d", BlendedScore: 0.5, CoverageFraction: 1.0},
	}
	Rank(recs)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.CandidateID
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestDisclosure(t *testing.T) {
	assert.Equal(t, "evaluated: 40 of 40 eligible", Disclosure(40, 40, 0))
	assert.Equal(t, "evaluated: 40 of 40 eligible (cap: 10)", Disclosure(40, 40, 10))
}

func TestAssemble_CapsDisplayOnly(t *testing.T) {
	recs := make([]models.ScoreRecord, 5)
	for i := range recs {
		recs[i] = models.ScoreRecord{CandidateID: string(rune('a' + i)), BlendedScore: float64(i) / 10}
	}
	res := Assemble(Assembly{FocusSensorID: "f", PoolSize: 5, Evaluated: 5, Cap: 2, Records: recs})

	require.Len(t, res.Results, 2)
	assert.Equal(t, "e", res.Results[0].CandidateID)
	assert.Equal(t, 5, res.PoolSize)
	assert.Equal(t, 5, res.CandidatesEvaluated)
	assert.Equal(t, "evaluated: 5 of 5 eligible (cap: 2)", res.Disclosure)
	assert.NotNil(t, res.Skipped)
}

func TestAssemble_NarrowingIsDisclosed(t *testing.T) {
	res := Assemble(Assembly{PoolSize: 900, Evaluated: 50, Cap: 10, NarrowingUsed: true})
	assert.Contains(t, res.Disclosure, "evaluated: 50 of 900 eligible (cap: 10)")
	assert.Contains(t, res.Disclosure, "similarity search")
}
