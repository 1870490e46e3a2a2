package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// CooccurrenceParams rank the pool by how often episodes coincide with the focus.
type CooccurrenceParams struct {
	FocusSensorID string `json:"focus_sensor_id"`
	Window
	Scope
	ToleranceSeconds int64 `json:"tolerance_seconds,omitempty"`
}

// CooccurrenceEntry is one candidate's episode evidence against the focus.
type CooccurrenceEntry struct {
	CandidateID       string  `json:"candidate_id"`
	CandidateEpisodes int     `json:"candidate_episodes"`
	CooccurrenceCount int     `json:"cooccurrence_count"`
	EventsOverlap     float64 `json:"events_overlap"`
}

// CooccurrenceResult is the persisted result of a cooccurrence job.
type CooccurrenceResult struct {
	FocusSensorID       string                    `json:"focus_sensor_id"`
	FocusEpisodes       []models.Episode          `json:"focus_episodes"`
	Start               time.Time                 `json:"start"`
	End                 time.Time                 `json:"end"`
	PoolSize            int                       `json:"pool_size"`
	CandidatesEvaluated int                       `json:"candidates_evaluated"`
	Disclosure          string                    `json:"disclosure"`
	Incomplete          bool                      `json:"incomplete"`
	IncompleteReason    string                    `json:"incomplete_reason,omitempty"`
	Results             []CooccurrenceEntry       `json:"results"`
	Skipped             []models.SkippedCandidate `json:"skipped"`
}

// CooccurrenceScan counts episode co-occurrences between the focus and every candidate.
type CooccurrenceScan struct {
	deps Deps
}

func (a *CooccurrenceScan) Type() string { return models.JobTypeCooccurrence }

func (a *CooccurrenceScan) Prepare(raw json.RawMessage, preview bool) (Task, error) {
	var params CooccurrenceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	p := a.deps.Policy
	params.Window.normalize()
	params.Scope.normalize()

	var errs *multierror.Error
	errs = requireSensorID(errs, "focus_sensor_id", params.FocusSensorID)
	errs = params.Window.validate(errs)
	errs = params.Scope.validate(errs, preview, p)
	if params.ToleranceSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("tolerance_seconds must be >= 0, got %d", params.ToleranceSeconds))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	if err := analysis.CheckBuckets(params.seconds(), params.IntervalSeconds, p.MaxBuckets); err != nil {
		return nil, err
	}
	return &cooccurrenceTask{deps: a.deps, params: params}, nil
}

type cooccurrenceTask struct {
	deps   Deps
	params CooccurrenceParams
}

func (t *cooccurrenceTask) Params() any { return t.params }

func (t *cooccurrenceTask) Compute(ctx context.Context, run *Run) (any, error) {
	p := t.deps.Policy
	params := t.params

	focus, err := loadFocus(ctx, t.deps, params.FocusSensorID, params.Window)
	if err != nil {
		return nil, err
	}
	focusEpisodes := analysis.DetectEpisodes(focus.series, p.EpisodeZThreshold)

	pool, err := t.deps.Candidates.Build(ctx, candidates.Request{
		FocusSensorID:  params.FocusSensorID,
		NodeID:         params.NodeID,
		SensorIDs:      params.CandidateSensorIDs,
		ExcludeDerived: params.ExcludeDerived,
		Start:          params.Start,
		End:            params.End,
		Cap:            params.Cap,
	})
	if err != nil {
		return nil, fmt.Errorf("build candidate pool: %w", err)
	}
	if err := run.SetTotal(ctx, pool.ToScore); err != nil {
		return nil, err
	}

	var entries []CooccurrenceEntry
	res, err := scan(ctx, run, t.deps, scanRequest{
		Sensors:  pool.Scored(),
		Start:    params.Start,
		End:      params.End,
		Interval: focus.series.Interval,
		Evaluate: func(sn *models.Sensor, s analysis.Series) string {
			window := s.Between(params.Start.Unix(), params.End.Unix())
			eps := analysis.DetectEpisodes(window, p.EpisodeZThreshold)
			tol := params.ToleranceSeconds
			if tol == 0 {
				tol = window.Interval
			}
			count, overlap := analysis.Cooccurrence(focusEpisodes, eps, 0, tol)
			entries = append(entries, CooccurrenceEntry{
				CandidateID:       sn.ID,
				CandidateEpisodes: len(eps),
				CooccurrenceCount: count,
				EventsOverlap:     overlap,
			})
			return ""
		},
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.CooccurrenceCount != b.CooccurrenceCount {
			return a.CooccurrenceCount > b.CooccurrenceCount
		}
		if a.EventsOverlap != b.EventsOverlap {
			return a.EventsOverlap > b.EventsOverlap
		}
		return a.CandidateID < b.CandidateID
	})
	if params.Cap > 0 && len(entries) > params.Cap {
		entries = entries[:params.Cap]
	}
	if entries == nil {
		entries = []CooccurrenceEntry{}
	}
	if focusEpisodes == nil {
		focusEpisodes = []models.Episode{}
	}

	disclosure := analysis.Disclosure(run.Evaluated(), pool.Size(), params.Cap)
	if pool.NarrowingUsed {
		disclosure += "; candidates prioritised by similarity search"
	}
	return &CooccurrenceResult{
		FocusSensorID:       params.FocusSensorID,
		FocusEpisodes:       focusEpisodes,
		Start:               params.Start,
		End:                 params.End,
		PoolSize:            pool.Size(),
		CandidatesEvaluated: run.Evaluated(),
		Disclosure:          disclosure,
		Incomplete:          res.Incomplete,
		IncompleteReason:    res.IncompleteReason,
		Results:             entries,
		Skipped:             res.Skipped,
	}, nil
}
