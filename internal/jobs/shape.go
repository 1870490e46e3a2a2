package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// minShapePoints is the shortest motif worth searching for.
const minShapePoints = 4

// ShapeProfileParams search the pool for windows shaped like a slice of the focus series.
type ShapeProfileParams struct {
	FocusSensorID string    `json:"focus_sensor_id"`
	QueryStart    time.Time `json:"query_start"`
	QueryEnd      time.Time `json:"query_end"`
	Window
	Scope
}

// ShapeEntry is a candidate's closest window to the motif.
type ShapeEntry struct {
	CandidateID string `json:"candidate_id"`
	analysis.ShapeMatch
}

// ShapeProfileResult is the persisted result of a shape_profile job.
type ShapeProfileResult struct {
	FocusSensorID       string                    `json:"focus_sensor_id"`
	QueryStart          time.Time                 `json:"query_start"`
	QueryEnd            time.Time                 `json:"query_end"`
	QueryPoints         int                       `json:"query_points"`
	PoolSize            int                       `json:"pool_size"`
	CandidatesEvaluated int                       `json:"candidates_evaluated"`
	Disclosure          string                    `json:"disclosure"`
	Incomplete          bool                      `json:"incomplete"`
	IncompleteReason    string                    `json:"incomplete_reason,omitempty"`
	Results             []ShapeEntry              `json:"results"`
	Skipped             []models.SkippedCandidate `json:"skipped"`
}

// ShapeProfile finds, per candidate, the window most similar in shape to a motif.
type ShapeProfile struct {
	deps Deps
}

func (a *ShapeProfile) Type() string { return models.JobTypeShapeProfile }

func (a *ShapeProfile) Prepare(raw json.RawMessage, preview bool) (Task, error) {
	var params ShapeProfileParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	p := a.deps.Policy
	params.Window.normalize()
	params.Scope.normalize()
	params.QueryStart = params.QueryStart.UTC().Truncate(time.Second)
	params.QueryEnd = params.QueryEnd.UTC().Truncate(time.Second)

	var errs *multierror.Error
	errs = requireSensorID(errs, "focus_sensor_id", params.FocusSensorID)
	errs = params.Window.validate(errs)
	errs = params.Scope.validate(errs, preview, p)
	if params.QueryStart.IsZero() || !params.QueryEnd.After(params.QueryStart) {
		errs = multierror.Append(errs, errors.New("query_end must be after query_start"))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	if err := analysis.CheckBuckets(params.seconds(), params.IntervalSeconds, p.MaxBuckets); err != nil {
		return nil, err
	}
	return &shapeTask{deps: a.deps, params: params}, nil
}

type shapeTask struct {
	deps   Deps
	params ShapeProfileParams
}

func (t *shapeTask) Params() any { return t.params }

func (t *shapeTask) Compute(ctx context.Context, run *Run) (any, error) {
	params := t.params

	motif, err := loadFocus(ctx, t.deps, params.FocusSensorID, Window{
		Start: params.QueryStart, End: params.QueryEnd, IntervalSeconds: params.IntervalSeconds,
	})
	if err != nil {
		return nil, err
	}
	query := motif.series.Values()
	if len(query) < minShapePoints {
		return nil, analysis.Invalid("query window holds %d points, need at least %d", len(query), minShapePoints)
	}
	if _, ok := analysis.ZNormalize(query); !ok {
		return nil, analysis.Invalid("query window is flat and has no shape")
	}

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

	var entries []ShapeEntry
	var stopErr error
	checkpoint := func() error { return run.Checkpoint(ctx) }
	res, err := scan(ctx, run, t.deps, scanRequest{
		Sensors:  pool.Scored(),
		Start:    params.Start,
		End:      params.End,
		Interval: motif.series.Interval,
		Evaluate: func(sn *models.Sensor, s analysis.Series) string {
			if stopErr != nil {
				return ""
			}
			target := s.Between(params.Start.Unix(), params.End.Unix())
			m, found, err := analysis.BestShapeMatch(query, target, checkpoint)
			if err != nil {
				stopErr = err
				return ""
			}
			if found {
				entries = append(entries, ShapeEntry{CandidateID: sn.ID, ShapeMatch: m})
			}
			return ""
		},
	})
	if err != nil {
		return nil, err
	}

	out := &ShapeProfileResult{
		FocusSensorID:    params.FocusSensorID,
		QueryStart:       params.QueryStart,
		QueryEnd:         params.QueryEnd,
		QueryPoints:      len(query),
		PoolSize:         pool.Size(),
		Incomplete:       res.Incomplete,
		IncompleteReason: res.IncompleteReason,
		Skipped:          res.Skipped,
	}
	// A checkpoint inside the motif search fired; the candidate it interrupted
	// has no entry.
	if stopErr != nil {
		if !errors.Is(stopErr, analysis.ErrBudgetExceeded) {
			return nil, stopErr
		}
		out.Incomplete = true
		out.IncompleteReason = "compute budget exceeded during shape search"
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Distance != entries[j].Distance {
			return entries[i].Distance < entries[j].Distance
		}
		return entries[i].CandidateID < entries[j].CandidateID
	})
	if params.Cap > 0 && len(entries) > params.Cap {
		entries = entries[:params.Cap]
	}
	if entries == nil {
		entries = []ShapeEntry{}
	}
	out.Results = entries
	out.CandidatesEvaluated = run.Evaluated()
	out.Disclosure = analysis.Disclosure(out.CandidatesEvaluated, out.PoolSize, params.Cap)
	if pool.NarrowingUsed {
		out.Disclosure += "; candidates prioritised by similarity search"
	}
	return out, nil
}
