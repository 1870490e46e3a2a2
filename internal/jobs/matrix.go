package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

const maxMatrixSensors = 25

// CorrelationMatrixParams request pairwise lag-0 correlations.
type CorrelationMatrixParams struct {
	SensorIDs []string `json:"sensor_ids"`
	Window
}

// CorrelationMatrixResult holds the symmetric matrix. A nil cell means the
// pair had too little overlap to correlate.
type CorrelationMatrixResult struct {
	SensorIDs  []string                  `json:"sensor_ids"`
	Matrix     [][]*float64              `json:"matrix"`
	Overlap    [][]int                   `json:"overlap"`
	Coverage   []float64                 `json:"coverage"`
	Incomplete bool                      `json:"incomplete"`
	Skipped    []models.SkippedCandidate `json:"skipped"`
}

// CorrelationMatrix computes Pearson correlation for every pair of a small sensor set.
type CorrelationMatrix struct {
	deps Deps
}

func (a *CorrelationMatrix) Type() string { return models.JobTypeCorrelationMatrix }

func (a *CorrelationMatrix) Prepare(raw json.RawMessage, _ bool) (Task, error) {
	var params CorrelationMatrixParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	params.Window.normalize()
	params.SensorIDs = uniqueSorted(params.SensorIDs)

	var errs *multierror.Error
	if n := len(params.SensorIDs); n < 2 || n > maxMatrixSensors {
		errs = multierror.Append(errs, fmt.Errorf("sensor_ids must list between 2 and %d distinct sensors, got %d",
			maxMatrixSensors, n))
	}
	errs = params.Window.validate(errs)
	if err := finish(errs); err != nil {
		return nil, err
	}
	if err := analysis.CheckBuckets(params.seconds(), params.IntervalSeconds, a.deps.Policy.MaxBuckets); err != nil {
		return nil, err
	}
	return &matrixTask{deps: a.deps, params: params}, nil
}

type matrixTask struct {
	deps   Deps
	params CorrelationMatrixParams
}

func (t *matrixTask) Params() any { return t.params }

func (t *matrixTask) Compute(ctx context.Context, run *Run) (any, error) {
	params := t.params
	n := len(params.SensorIDs)

	sensors := make([]*models.Sensor, 0, n)
	for _, id := range params.SensorIDs {
		sn, err := lookupSensor(ctx, t.deps.Store, id)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sn)
	}

	reads, err := readCandidates(ctx, t.deps.Reader, sensors, params.Start, params.End, params.IntervalSeconds, 0)
	if err != nil {
		return nil, analysis.ErrCancelled
	}
	if len(reads.failed) == n {
		return nil, fmt.Errorf("read series: %w", errors.Unwrap(reads.failed[params.SensorIDs[0]]))
	}

	series := make([]analysis.Series, n)
	res := &CorrelationMatrixResult{
		SensorIDs: params.SensorIDs,
		Matrix:    make([][]*float64, n),
		Overlap:   make([][]int, n),
		Coverage:  make([]float64, n),
		Skipped:   []models.SkippedCandidate{},
	}
	for i, id := range params.SensorIDs {
		res.Matrix[i] = make([]*float64, n)
		res.Overlap[i] = make([]int, n)
		if _, failed := reads.failed[id]; failed {
			res.Skipped = append(res.Skipped, models.SkippedCandidate{CandidateID: id, Reason: analysis.ReasonReadFailed})
			continue
		}
		series[i] = reads.series[id].Between(params.Start.Unix(), params.End.Unix())
		res.Coverage[i] = analysis.Coverage(series[i], params.Start.Unix(), params.End.Unix(), reads.watermark, 0)
		one := 1.0
		res.Matrix[i][i] = &one
		res.Overlap[i][i] = series[i].Len()
	}

	if err := run.SetTotal(ctx, n*(n-1)/2); err != nil {
		return nil, err
	}
	minOverlap := t.deps.Policy.MinOverlap
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if err := run.Checkpoint(ctx); err != nil {
				if errors.Is(err, analysis.ErrBudgetExceeded) {
					res.Incomplete = true
					return res, nil
				}
				return nil, err
			}
			pairs := analysis.Align(series[i], series[j], 0)
			res.Overlap[i][j], res.Overlap[j][i] = len(pairs), len(pairs)
			if len(pairs) >= minOverlap {
				if r, ok := analysis.PearsonPairs(pairs); ok && !math.IsNaN(r) {
					v := r
					res.Matrix[i][j], res.Matrix[j][i] = &v, &v
				}
			}
			if err := run.Advance(ctx, 1); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}
