package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

const (
	maxNoopSteps        = 10000
	maxNoopPreviewSteps = 10
	maxNoopStepDelayMs  = 60000
)

// NoopParams drive the engine self-test job.
type NoopParams struct {
	Steps       int    `json:"steps"`
	StepDelayMs int    `json:"step_delay_ms,omitempty"`
	FailAtStep  int    `json:"fail_at_step,omitempty"`
	Label       string `json:"label,omitempty"`
}

// NoopResult reports how many steps ran.
type NoopResult struct {
	StepsCompleted int    `json:"steps_completed"`
	Label          string `json:"label,omitempty"`
}

// Noop sleeps through a number of steps. It exercises progress, cancellation
// and dedupe without touching any sensor data.
type Noop struct{}

func (Noop) Type() string { return models.JobTypeNoop }

func (Noop) Prepare(raw json.RawMessage, preview bool) (Task, error) {
	var params NoopParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	limit := maxNoopSteps
	if preview {
		limit = maxNoopPreviewSteps
	}

	var errs *multierror.Error
	if params.Steps < 1 || params.Steps > limit {
		errs = multierror.Append(errs, fmt.Errorf("steps must be between 1 and %d, got %d", limit, params.Steps))
	}
	if params.StepDelayMs < 0 || params.StepDelayMs > maxNoopStepDelayMs {
		errs = multierror.Append(errs, fmt.Errorf("step_delay_ms must be between 0 and %d, got %d",
			maxNoopStepDelayMs, params.StepDelayMs))
	}
	if params.FailAtStep < 0 {
		errs = multierror.Append(errs, fmt.Errorf("fail_at_step must be >= 0, got %d", params.FailAtStep))
	}
	if err := finish(errs); err != nil {
		return nil, err
	}
	return &noopTask{params: params}, nil
}

type noopTask struct {
	params NoopParams
}

func (t *noopTask) Params() any { return t.params }

func (t *noopTask) Compute(ctx context.Context, run *Run) (any, error) {
	if err := run.SetTotal(ctx, t.params.Steps); err != nil {
		return nil, err
	}
	delay := time.Duration(t.params.StepDelayMs) * time.Millisecond

	for step := 1; step <= t.params.Steps; step++ {
		if err := run.Checkpoint(ctx); err != nil {
			return nil, err
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, analysis.ErrCancelled
			case <-timer.C:
			}
		}
		if step == t.params.FailAtStep {
			return nil, fmt.Errorf("noop failed at step %d", step)
		}
		if err := run.Advance(ctx, 1); err != nil {
			return nil, err
		}
	}
	return &NoopResult{StepsCompleted: t.params.Steps, Label: t.params.Label}, nil
}
