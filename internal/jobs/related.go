package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// RelatedSignalsParams ask which sensors move with the focus sensor.
type RelatedSignalsParams struct {
	FocusSensorID string `json:"focus_sensor_id"`
	Window
	Scope
	MaxLagSeconds *int64 `json:"max_lag_seconds,omitempty"`
}

// RelatedSignals ranks the eligible pool by lag-aware similarity to a focus sensor.
type RelatedSignals struct {
	deps Deps
}

func (a *RelatedSignals) Type() string { return models.JobTypeRelatedSignals }

func (a *RelatedSignals) Prepare(raw json.RawMessage, preview bool) (Task, error) {
	var params RelatedSignalsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	p := a.deps.Policy
	params.Window.normalize()
	params.Scope.normalize()
	if params.MaxLagSeconds == nil {
		lag := p.MaxLagSeconds
		params.MaxLagSeconds = &lag
	}

	var errs *multierror.Error
	errs = requireSensorID(errs, "focus_sensor_id", params.FocusSensorID)
	errs = params.Window.validate(errs)
	errs = params.Scope.validate(errs, preview, p)
	if *params.MaxLagSeconds < 0 || *params.MaxLagSeconds > p.MaxLagSeconds {
		errs = multierror.Append(errs, fmt.Errorf("max_lag_seconds must be between 0 and %d, got %d",
			p.MaxLagSeconds, *params.MaxLagSeconds))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	if err := analysis.CheckBuckets(params.seconds(), params.IntervalSeconds, p.MaxBuckets); err != nil {
		return nil, err
	}
	return &relatedTask{deps: a.deps, params: params}, nil
}

type relatedTask struct {
	deps   Deps
	params RelatedSignalsParams
}

func (t *relatedTask) Params() any { return t.params }

func (t *relatedTask) Compute(ctx context.Context, run *Run) (any, error) {
	p := t.deps.Policy
	params := t.params

	focus, err := loadFocus(ctx, t.deps, params.FocusSensorID, params.Window)
	if err != nil {
		return nil, err
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
	run.Logger.Info("scoring candidates",
		"pool_size", pool.Size(), "to_score", pool.ToScore, "narrowing_used", pool.NarrowingUsed)

	maxLag := *params.MaxLagSeconds
	prepared := analysis.PrepareFocus(params.FocusSensorID, focus.series,
		params.Start.Unix(), params.End.Unix(), focus.watermark, p)
	lags := analysis.LagSteps(focus.series.Interval, maxLag, p.MaxLagSteps)

	var records []models.ScoreRecord
	res, err := scan(ctx, run, t.deps, scanRequest{
		Sensors:  pool.Scored(),
		Start:    params.Start,
		End:      params.End,
		Interval: focus.series.Interval,
		Horizon:  maxLag,
		Evaluate: func(sn *models.Sensor, s analysis.Series) string {
			out := analysis.Score(prepared, sn.ID, s, lags, p)
			if out.Excluded {
				return out.Reason
			}
			records = append(records, out.Record)
			return ""
		},
	})
	if err != nil {
		return nil, err
	}

	return analysis.Assemble(analysis.Assembly{
		FocusSensorID:    params.FocusSensorID,
		IntervalSeconds:  focus.series.Interval,
		Start:            params.Start,
		End:              params.End,
		Watermark:        watermarkTime(focus.watermark),
		PoolSize:         pool.Size(),
		Cap:              params.Cap,
		NarrowingUsed:    pool.NarrowingUsed,
		Evaluated:        run.Evaluated(),
		Records:          records,
		Skipped:          res.Skipped,
		Incomplete:       res.Incomplete,
		IncompleteReason: res.IncompleteReason,
	}), nil
}

// focusRead is the focus sensor's series over the analysis window.
type focusRead struct {
	sensor    *models.Sensor
	series    analysis.Series
	watermark int64
}

// loadFocus reads the focus series at its effective interval. Any failure
// here fails the job, since nothing can be scored without it.
func loadFocus(ctx context.Context, deps Deps, id string, w Window) (*focusRead, error) {
	sn, err := lookupSensor(ctx, deps.Store, id)
	if err != nil {
		return nil, err
	}
	iv := effectiveInterval(w.IntervalSeconds, sn)
	s, wm, err := readOne(ctx, deps.Reader, id, w.Start, w.End, iv)
	if err != nil {
		if ctx.Err() != nil {
			return nil, analysis.ErrCancelled
		}
		return nil, fmt.Errorf("read focus series %s: %w", id, err)
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNoFocusData, id)
	}
	return &focusRead{sensor: sn, series: s, watermark: wm}, nil
}

func watermarkTime(wm int64) *time.Time {
	if wm == 0 {
		return nil
	}
	t := time.Unix(wm, 0).UTC()
	return &t
}
