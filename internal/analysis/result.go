package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// RelatedSignalsResult is the persisted result of a related-signals job.
type RelatedSignalsResult struct {
	FocusSensorID       string                    `json:"focus_sensor_id"`
	IntervalSeconds     int64                     `json:"interval_seconds"`
	Start               time.Time                 `json:"start"`
	End                 time.Time                 `json:"end"`
	Watermark           *time.Time                `json:"watermark,omitempty"`
	PoolSize            int                       `json:"pool_size"`
	CandidatesEvaluated int                       `json:"candidates_evaluated"`
	Cap                 int                       `json:"cap,omitempty"`
	NarrowingUsed       bool                      `json:"narrowing_used"`
	Disclosure          string                    `json:"disclosure"`
	Incomplete          bool                      `json:"incomplete"`
	IncompleteReason    string                    `json:"incomplete_reason,omitempty"`
	Results             []models.ScoreRecord      `json:"results"`
	Skipped             []models.SkippedCandidate `json:"skipped"`
}

// Assembly collects everything the scorer produced for one job.
type Assembly struct {
	FocusSensorID    string
	IntervalSeconds  int64
	Start, End       time.Time
	Watermark        *time.Time
	PoolSize         int
	Cap              int
	NarrowingUsed    bool
	Evaluated        int
	Records          []models.ScoreRecord
	Skipped          []models.SkippedCandidate
	Incomplete       bool
	IncompleteReason string
}

// Assemble ranks the records, applies the display cap and writes the disclosure.
func Assemble(a Assembly) *RelatedSignalsResult {
	records := append([]models.ScoreRecord(nil), a.Records...)
	Rank(records)
	if a.Cap > 0 && len(records) > a.Cap {
		records = records[:a.Cap]
	}
	skipped := a.Skipped
	if skipped == nil {
		skipped = []models.SkippedCandidate{}
	}
	sort.SliceStable(skipped, func(i, j int) bool { return skipped[i].CandidateID < skipped[j].CandidateID })

	disclosure := Disclosure(a.Evaluated, a.PoolSize, a.Cap)
	if a.NarrowingUsed {
		disclosure += "; candidates prioritised by similarity search"
	}
	return &RelatedSignalsResult{
		FocusSensorID:       a.FocusSensorID,
		IntervalSeconds:     a.IntervalSeconds,
		Start:               a.Start,
		End:                 a.End,
		Watermark:           a.Watermark,
		PoolSize:            a.PoolSize,
		CandidatesEvaluated: a.Evaluated,
		Cap:                 a.Cap,
		NarrowingUsed:       a.NarrowingUsed,
		Disclosure:          disclosure,
		Incomplete:          a.Incomplete,
		IncompleteReason:    a.IncompleteReason,
		Results:             records,
		Skipped:             skipped,
	}
}

// Rank orders records by blended score, then coverage, then candidate id.
func Rank(records []models.ScoreRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.BlendedScore != b.BlendedScore {
			return a.BlendedScore > b.BlendedScore
		}
		if a.CoverageFraction != b.CoverageFraction {
			return a.CoverageFraction > b.CoverageFraction
		}
		return a.CandidateID < b.CandidateID
	})
}

// Disclosure describes how many eligible candidates were actually scored.
func Disclosure(evaluated, eligible, cap int) string {
	if cap > 0 {
		return fmt.Sprintf("evaluated: %d of %d eligible (cap: %d)", evaluated, eligible, cap)
	}
	return fmt.Sprintf("evaluated: %d of %d eligible", evaluated, eligible)
}
