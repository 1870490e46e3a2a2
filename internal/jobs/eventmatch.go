package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// EventMatchParams pair the episodes of two sensors.
type EventMatchParams struct {
	FocusSensorID     string `json:"focus_sensor_id"`
	CandidateSensorID string `json:"candidate_sensor_id"`
	Window
	ToleranceSeconds int64 `json:"tolerance_seconds,omitempty"`
}

// EventMatchResult lists matched episodes and the typical lead of the candidate.
type EventMatchResult struct {
	FocusSensorID       string                `json:"focus_sensor_id"`
	CandidateSensorID   string                `json:"candidate_sensor_id"`
	ToleranceSeconds    int64                 `json:"tolerance_seconds"`
	FocusEpisodes       []models.Episode      `json:"focus_episodes"`
	CandidateEpisodes   []models.Episode      `json:"candidate_episodes"`
	Matches             []analysis.EventMatch `json:"matches"`
	MatchedFraction     float64               `json:"matched_fraction"`
	MedianOffsetSeconds int64                 `json:"median_offset_seconds"`
}

// EventMatch matches focus episodes to the nearest candidate episode.
type EventMatch struct {
	deps Deps
}

func (a *EventMatch) Type() string { return models.JobTypeEventMatch }

func (a *EventMatch) Prepare(raw json.RawMessage, _ bool) (Task, error) {
	var params EventMatchParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	params.Window.normalize()

	var errs *multierror.Error
	errs = requireSensorID(errs, "focus_sensor_id", params.FocusSensorID)
	errs = requireSensorID(errs, "candidate_sensor_id", params.CandidateSensorID)
	if params.FocusSensorID != "" && params.FocusSensorID == params.CandidateSensorID {
		errs = multierror.Append(errs, fmt.Errorf("candidate_sensor_id must differ from focus_sensor_id"))
	}
	errs = params.Window.validate(errs)
	if params.ToleranceSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("tolerance_seconds must be >= 0, got %d", params.ToleranceSeconds))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	if params.ToleranceSeconds == 0 {
		params.ToleranceSeconds = 3 * params.IntervalSeconds
	}
	if err := analysis.CheckBuckets(params.seconds(), params.IntervalSeconds, a.deps.Policy.MaxBuckets); err != nil {
		return nil, err
	}
	return &eventMatchTask{deps: a.deps, params: params}, nil
}

type eventMatchTask struct {
	deps   Deps
	params EventMatchParams
}

func (t *eventMatchTask) Params() any { return t.params }

func (t *eventMatchTask) Compute(ctx context.Context, run *Run) (any, error) {
	params := t.params
	threshold := t.deps.Policy.EpisodeZThreshold

	if err := run.SetTotal(ctx, 1); err != nil {
		return nil, err
	}
	focus, err := loadFocus(ctx, t.deps, params.FocusSensorID, params.Window)
	if err != nil {
		return nil, err
	}
	if err := run.Checkpoint(ctx); err != nil {
		return nil, err
	}
	cand, err := loadFocus(ctx, t.deps, params.CandidateSensorID, params.Window)
	if err != nil {
		return nil, err
	}

	res := &EventMatchResult{
		FocusSensorID:     params.FocusSensorID,
		CandidateSensorID: params.CandidateSensorID,
		ToleranceSeconds:  params.ToleranceSeconds,
		FocusEpisodes:     analysis.DetectEpisodes(focus.series, threshold),
		CandidateEpisodes: analysis.DetectEpisodes(cand.series, threshold),
	}
	res.Matches = analysis.MatchEvents(res.FocusEpisodes, res.CandidateEpisodes, params.ToleranceSeconds)
	if n := len(res.FocusEpisodes); n > 0 {
		res.MatchedFraction = float64(len(res.Matches)) / float64(n)
	}
	res.MedianOffsetSeconds = analysis.MedianOffset(res.Matches)

	if res.FocusEpisodes == nil {
		res.FocusEpisodes = []models.Episode{}
	}
	if res.CandidateEpisodes == nil {
		res.CandidateEpisodes = []models.Episode{}
	}
	if res.Matches == nil {
		res.Matches = []analysis.EventMatch{}
	}
	if err := run.Advance(ctx, 1); err != nil {
		return nil, err
	}
	return res, nil
}
