package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// PreviewResult is the outcome of a synchronous preview. Nothing is persisted.
type PreviewResult struct {
	Type   string          `json:"type"`
	Cached bool            `json:"cached"`
	Result json.RawMessage `json:"result"`
}

// Preview runs a job type synchronously under the preview limits. It shares
// the algorithm code with submitted jobs, so both paths score identically.
func (e *Engine) Preview(ctx context.Context, p models.Principal, jobType string, raw json.RawMessage) (res *PreviewResult, err error) {
	if !p.Can(models.ScopeView) {
		return nil, ErrForbidden
	}
	defer func() {
		if !errors.Is(err, ErrForbidden) {
			metrics.ObservePreview(jobType, err)
		}
	}()

	task, hash, err := e.prepare(jobType, raw, true)
	if err != nil {
		return nil, err
	}
	key := cache.PreviewKey(jobType, hash)
	if cached, found, cerr := e.cache.Get(ctx, key); cerr == nil && found {
		return &PreviewResult{Type: jobType, Cached: true, Result: cached}, nil
	}

	timeout := e.cfg.PreviewTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The budget trips slightly before the timeout so a partial result can
	// still be returned.
	run := newPreviewRun(jobType, timeout*9/10)
	out, err := task.Compute(pctx, run)
	if errors.Is(err, analysis.ErrCancelled) && ctx.Err() == nil {
		return nil, fmt.Errorf("preview exceeded %s: %w", timeout, analysis.ErrBudgetExceeded)
	}
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if e.cfg.PreviewCacheTTL > 0 && !isIncomplete(encoded) {
		_ = e.cache.Set(ctx, key, encoded, e.cfg.PreviewCacheTTL)
	}
	return &PreviewResult{Type: jobType, Result: encoded}, nil
}

func isIncomplete(encoded []byte) bool {
	var probe struct {
		Incomplete bool `json:"incomplete"`
	}
	return json.Unmarshal(encoded, &probe) == nil && probe.Incomplete
}

// SeriesPreviewRequest asks for the lag-aligned pair of two sensors.
type SeriesPreviewRequest struct {
	FocusSensorID     string `json:"focus_sensor_id"`
	CandidateSensorID string `json:"candidate_sensor_id"`
	Window
	LagSeconds int64 `json:"lag_seconds"`
}

// PreviewSeries returns the focus and candidate aligned at a lag for charting,
// falling back to the raw candidate series when too few buckets align.
func (e *Engine) PreviewSeries(ctx context.Context, p models.Principal, req SeriesPreviewRequest) (*analysis.SeriesPreview, error) {
	if !p.Can(models.ScopeView) {
		return nil, ErrForbidden
	}
	policy := e.deps.Policy
	req.Window.normalize()

	var errs *multierror.Error
	errs = requireSensorID(errs, "focus_sensor_id", req.FocusSensorID)
	errs = requireSensorID(errs, "candidate_sensor_id", req.CandidateSensorID)
	errs = req.Window.validate(errs)
	if req.LagSeconds < -policy.MaxLagSeconds || req.LagSeconds > policy.MaxLagSeconds {
		errs = multierror.Append(errs, fmt.Errorf("lag_seconds must be within ±%d", policy.MaxLagSeconds))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	if err := analysis.CheckBuckets(req.seconds(), req.IntervalSeconds, policy.MaxBuckets); err != nil {
		return nil, err
	}

	timeout := e.cfg.PreviewTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	focus, err := loadFocus(ctx, e.deps, req.FocusSensorID, req.Window)
	if err != nil {
		return nil, err
	}
	candSensor, err := lookupSensor(ctx, e.deps.Store, req.CandidateSensorID)
	if err != nil {
		return nil, err
	}

	iv := effectiveInterval(focus.series.Interval, candSensor)
	pad := time.Duration(abs64(req.LagSeconds)+iv) * time.Second
	cand, _, err := readOne(ctx, e.deps.Reader, req.CandidateSensorID, req.Start.Add(-pad), req.End.Add(pad), iv)
	if err != nil {
		return nil, &analysis.CandidateReadError{CandidateID: req.CandidateSensorID, Err: err}
	}

	preview := analysis.BuildSeriesPreview(req.FocusSensorID, req.CandidateSensorID,
		focus.series, cand, req.LagSeconds, policy.PreviewMinPoints)
	if preview.FallbackUsed {
		if inWindow := cand.Between(req.Start.Unix(), req.End.Unix()).Points; len(inWindow) > 0 {
			preview.Raw = inWindow
		}
	}
	metrics.ObservePreview("series", nil)
	return &preview, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
